package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	sherr "stagehand/internal/errors"
)

// Reader decodes units from a payload stream, one at a time.
type Reader struct {
	br     *bufio.Reader
	limits Limits
	done   bool

	// OnKeepAlive, if set, is called for every skipped blank line.
	OnKeepAlive func()
}

// NewReader wraps r.  An existing *bufio.Reader is used as is so no
// bytes past the sentinel are buffered away from the caller.
func NewReader(r io.Reader, limits Limits) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: br, limits: limits}
}

// Next returns the next unit.  It returns ErrEndOfPayload once the
// sentinel is read, and on every call after that.  Any other error is a
// *errors.FramingError and leaves the stream in an undefined position.
func (r *Reader) Next() (Unit, error) {
	if r.done {
		return Unit{}, ErrEndOfPayload
	}

	name, err := r.readName()
	if err != nil {
		return Unit{}, err
	}
	if name == Sentinel {
		r.done = true
		return Unit{}, ErrEndOfPayload
	}

	n, err := r.readLength(name)
	if err != nil {
		return Unit{}, err
	}

	content := make([]byte, n)
	if _, err := io.ReadFull(r.br, content); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Unit{}, sherr.Framing("content", name, err)
	}
	return Unit{Name: name, Length: n, Content: content}, nil
}

// readName skips keep-alive lines and returns the first non-blank one.
// The name is decoded as ASCII.
func (r *Reader) readName() (string, error) {
	for {
		line, err := r.br.ReadString('\n')
		name := strings.TrimSpace(line)

		if name == "" {
			if errors.Is(err, io.EOF) {
				return "", sherr.Framing("name", "", sherr.ErrUnexpectedEnd)
			}
			if err != nil {
				return "", sherr.Framing("name", "", err)
			}
			if r.OnKeepAlive != nil {
				r.OnKeepAlive()
			}
			continue
		}

		// A final line without a newline is still a name; the length
		// read that follows reports the truncation.
		if err != nil && !errors.Is(err, io.EOF) {
			return "", sherr.Framing("name", "", err)
		}
		if !isASCII(name) {
			return "", sherr.Framing("name", "", fmt.Errorf("%w: %q is not ASCII", ErrBadName, name))
		}
		return name, nil
	}
}

func (r *Reader) readLength(name string) (int64, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, sherr.Framing("length", name, err)
	}
	if line == "" {
		return 0, sherr.Framing("length", name, io.ErrUnexpectedEOF)
	}

	digits := strings.TrimSpace(line)
	n, perr := strconv.ParseUint(digits, 10, 63)
	if perr != nil {
		return 0, sherr.Framing("length", name, fmt.Errorf("invalid length %q: %w", digits, perr))
	}
	if r.limits.MaxUnitBytes > 0 && int64(n) > r.limits.MaxUnitBytes {
		return 0, sherr.Framing("length", name,
			fmt.Errorf("%w: %d > %d", sherr.ErrUnitTooLarge, n, r.limits.MaxUnitBytes))
	}
	return int64(n), nil
}
