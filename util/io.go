package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
)

// DefaultBufSize is the standard buffer size for stream I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// CopyPair is one direction of a relay: bytes read from Src are written
// to Dst.
type CopyPair struct {
	Name string
	Dst  io.Writer
	Src  io.Reader
}

// Pump copies every pair concurrently using pooled buffers and returns
// once all sources reach EOF.  When ctx is cancelled, sources that are
// also io.Closers are closed to unblock pending reads.
func Pump(ctx context.Context, pairs ...CopyPair) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(pairs))

	for _, p := range pairs {
		wg.Add(1)
		go func(p CopyPair) {
			defer wg.Done()
			buf := GetBuf()
			defer PutBuf(buf)
			_, err := io.CopyBuffer(p.Dst, p.Src, *buf)
			if err != nil && !isHarmless(err) {
				errCh <- err
				cancel()
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		for _, p := range pairs {
			if c, ok := p.Src.(io.Closer); ok {
				c.Close() //nolint:errcheck
			}
		}
		<-done
	}
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
