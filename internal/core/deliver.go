package core

import (
	"context"
	"fmt"
	"io"

	"stagehand/internal/metrics"
	"stagehand/internal/payload"
	"stagehand/internal/transport"
	"stagehand/util"
)

// DeliverMode starts the loader on a target through a Channel, streams
// the payload into its stdin, and relays its stdout and stderr until
// it exits.
type DeliverMode struct {
	Manifest *payload.Manifest
	Channel  transport.Channel
	Command  string

	// Input, if set, is relayed to the remote stdin after the payload.
	// Otherwise stdin is closed once the sentinel is written.
	Input  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	DryRun  bool
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run performs one delivery.
func (m *DeliverMode) Run(ctx context.Context) error {
	srcs, err := m.Manifest.Sources()
	if err != nil {
		return err
	}

	if m.DryRun {
		st, err := payload.Write(io.Discard, srcs)
		if err != nil {
			return err
		}
		m.Logger.Info("dry run: %d units, %d bytes would be sent to %q", st.Units, st.Bytes, m.Command)
		return nil
	}

	defer m.Channel.Close()

	proc, err := m.Channel.Start(ctx, m.Command)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	m.Logger.Verbose("started %q", m.Command)

	sent := make(chan error, 1)
	go func() {
		st, err := payload.Write(proc.Stdin, srcs)
		recordStreamed(m.Metrics, st)
		sent <- err
		if err != nil || m.Input == nil {
			proc.Stdin.Close()
			return
		}
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		io.CopyBuffer(proc.Stdin, m.Input, *buf) //nolint:errcheck
		proc.Stdin.Close()
	}()

	relayErr := util.Pump(ctx,
		util.CopyPair{Name: "stdout", Dst: m.Stdout, Src: proc.Stdout},
		util.CopyPair{Name: "stderr", Dst: m.Stderr, Src: proc.Stderr},
	)
	sendErr := <-sent
	waitErr := proc.Wait()

	// A loader that exits early also breaks the payload pipe; its exit
	// status is the more useful report.
	switch {
	case waitErr != nil:
		m.Metrics.RecordError(waitErr.Error())
		return fmt.Errorf("deliver: remote loader: %w", waitErr)
	case sendErr != nil:
		m.Metrics.RecordError(sendErr.Error())
		return fmt.Errorf("deliver: sending payload: %w", sendErr)
	case relayErr != nil:
		return fmt.Errorf("deliver: relaying output: %w", relayErr)
	}
	m.Logger.Debug("delivered: %s", m.Metrics.JSON())
	return nil
}
