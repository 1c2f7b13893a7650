package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"stagehand/util"
)

// newChannelModule exposes the loader's stream to delivered code.  The
// reader is the one the frames were decoded from, so bytes after the
// sentinel are the first thing channel.read returns.
func newChannelModule(r *bufio.Reader, w io.Writer) *starlarkstruct.Module {
	ch := &channel{r: r, w: w}
	return &starlarkstruct.Module{
		Name: "channel",
		Members: starlark.StringDict{
			"read":      starlark.NewBuiltin("channel.read", ch.read),
			"read_line": starlark.NewBuiltin("channel.read_line", ch.readLine),
			"write":     starlark.NewBuiltin("channel.write", ch.write),
		},
	}
}

type channel struct {
	r *bufio.Reader
	w io.Writer
}

// read(n) returns up to n bytes; empty at end of stream.  The result
// grows one pooled chunk at a time, so a large n costs only what the
// stream actually delivers.
func (c *channel) read(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: negative size %d", b.Name(), n)
	}

	chunk := util.GetBuf()
	defer util.PutBuf(chunk)

	var out []byte
	for remaining := n; remaining > 0; {
		got, err := io.ReadFull(c.r, (*chunk)[:min(remaining, len(*chunk))])
		out = append(out, (*chunk)[:got]...)
		remaining -= got
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return starlark.Bytes(out), nil
}

// read_line() returns the next line including its newline; empty at
// end of stream.
func (c *channel) readLine(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	line, err := c.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(line), nil
}

// write(data) writes a string or bytes and returns the count.
func (c *channel) write(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	var p []byte
	switch v := data.(type) {
	case starlark.String:
		p = []byte(v)
	case starlark.Bytes:
		p = []byte(v)
	default:
		return nil, fmt.Errorf("%s: want string or bytes, got %s", b.Name(), data.Type())
	}
	if c.w == nil {
		return nil, fmt.Errorf("%s: no output", b.Name())
	}
	n, err := c.w.Write(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.MakeInt(n), nil
}
