package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"stagehand/internal/metrics"
	"stagehand/internal/payload"
	"stagehand/util"
)

// PackMode writes a manifest's payload stream to a file or stdout.
type PackMode struct {
	Manifest   *payload.Manifest
	Out        io.Writer // used when OutputPath is "" or "-"
	OutputPath string
	Logger     *util.Logger
	Metrics    *metrics.Collector
}

// Run renders the stream.  A partially written output file is removed.
func (m *PackMode) Run(ctx context.Context) error {
	srcs, err := m.Manifest.Sources()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.OutputPath == "" || m.OutputPath == "-" {
		return m.write(m.Out, srcs)
	}

	f, err := os.Create(m.OutputPath)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	if err := m.write(f, srcs); err != nil {
		f.Close()
		os.Remove(m.OutputPath) //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	m.Logger.Verbose("wrote %s", m.OutputPath)
	return nil
}

func (m *PackMode) write(w io.Writer, srcs []payload.Source) error {
	bw := bufio.NewWriterSize(w, util.DefaultBufSize)
	st, err := payload.Write(bw, srcs)
	recordStreamed(m.Metrics, st)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	m.Logger.Verbose("packed %d units, %d bytes", st.Units, st.Bytes)
	return nil
}

func recordStreamed(m *metrics.Collector, st payload.Stats) {
	for _, n := range st.Sizes {
		m.UnitStreamed(n)
	}
}
