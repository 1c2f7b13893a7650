package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.starlark.net/starlark"

	"stagehand/internal/assembler"
	sherr "stagehand/internal/errors"
	"stagehand/internal/frame"
	"stagehand/internal/handoff"
	"stagehand/internal/metrics"
	"stagehand/internal/namespace"
	"stagehand/util"
)

// Progress banners written to Banner around assembly.
const (
	BannerStart    = "S: Starting Assembler"
	BannerComplete = "S: Assembler Complete"
)

// ServeMode is the loader: it reads units from In until the sentinel,
// assembles each one, then hands control to the delivered program.
type ServeMode struct {
	In        io.Reader
	Out       io.Writer // exposed to the delivered program as channel.write
	Banner    io.Writer
	Limits    frame.Limits
	Names     handoff.Names
	Verbosity int
	Logger    *util.Logger
	Metrics   *metrics.Collector
}

// Run assembles the payload and performs the handoff.  Any failure
// before the handoff aborts the whole load.
func (m *ServeMode) Run(ctx context.Context) error {
	fmt.Fprintln(m.Banner, BannerStart)

	br, ok := m.In.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(m.In)
	}

	reg := namespace.NewRegistry()
	asm := assembler.New(reg, m.Logger, m.Metrics)
	asm.Predeclared = starlark.StringDict{
		"channel": newChannelModule(br, m.Out),
	}

	r := frame.NewReader(br, m.Limits)
	r.OnKeepAlive = m.Metrics.KeepAlive

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, err := r.Next()
		if errors.Is(err, frame.ErrEndOfPayload) {
			break
		}
		if err != nil {
			m.Metrics.RecordError(err.Error())
			return m.abort(err)
		}

		m.Logger.Verbose("assembling %q (%d bytes)", u.Name, u.Length)
		if _, err := asm.Assemble(ctx, u); err != nil {
			return m.abort(err)
		}
	}

	fmt.Fprintln(m.Banner, BannerComplete)
	m.Logger.Debug("assembled: %s", m.Metrics.JSON())

	ctl := handoff.New(reg, m.Names, m.Verbosity, m.Logger)
	ctl.Metrics = m.Metrics
	return m.abort(ctl.Transfer(ctx))
}

// abort logs a loader fault, with the interpreter backtrace when the
// fault came from a unit.  Failures of the delivered program itself
// pass through untouched.
func (m *ServeMode) abort(err error) error {
	if !sherr.IsLoaderFault(err) {
		return err
	}
	m.Logger.Error("load aborted: %v", err)
	var ee *sherr.ExecError
	if errors.As(err, &ee) && ee.Backtrace != "" {
		m.Logger.Verbose("%s", ee.Backtrace)
	}
	return err
}
