package payload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"

	"stagehand/internal/frame"
	"stagehand/internal/handoff"
)

// Source is one unit ready to be framed.  Content, when set, takes
// precedence over Path.
type Source struct {
	Name    string
	Path    string
	Content []byte
}

// Stats summarises a written stream.
type Stats struct {
	Units int
	Bytes int64
	Sizes []int64 // per unit, in stream order
}

// Sources returns the units in stream order with the options unit
// inserted right after its parent.
func (m *Manifest) Sources() ([]Source, error) {
	srcs := make([]Source, 0, len(m.Units)+1)
	for _, u := range m.Units {
		srcs = append(srcs, Source{Name: u.Name, Path: m.resolve(u.Path)})
	}
	if m.OptionsNamespace == "" {
		return srcs, nil
	}

	content, err := RenderOptions(m.Options)
	if err != nil {
		return nil, err
	}
	at := m.optionsIndex()
	srcs = append(srcs, Source{})
	copy(srcs[at+1:], srcs[at:])
	srcs[at] = Source{Name: m.OptionsNamespace, Content: content}
	return srcs, nil
}

// Write frames every source onto w and terminates the stream.
func Write(w io.Writer, srcs []Source) (Stats, error) {
	var st Stats
	fw := frame.NewWriter(w)
	for _, src := range srcs {
		n, err := writeSource(fw, src)
		if err != nil {
			return st, err
		}
		st.Units++
		st.Bytes += n
		st.Sizes = append(st.Sizes, n)
	}
	if err := fw.Close(); err != nil {
		return st, fmt.Errorf("payload: write sentinel: %w", err)
	}
	return st, nil
}

func writeSource(fw *frame.Writer, src Source) (int64, error) {
	if src.Content != nil || src.Path == "" {
		return int64(len(src.Content)), fw.WriteUnit(src.Name, src.Content)
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return 0, fmt.Errorf("payload: unit %q: %w", src.Name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("payload: unit %q: %w", src.Name, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("payload: unit %q: %s is not a regular file", src.Name, src.Path)
	}
	return info.Size(), fw.WriteFrom(src.Name, info.Size(), f)
}

// ── options rendering ────────────────────────────────────────────────

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RenderOptions renders opts as a unit of Starlark assignments.  The
// handoff bundle keys come first in argument order; any other keys
// follow sorted.
func RenderOptions(opts map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(opts))
	bundle := make(map[string]bool, len(handoff.BundleFields))
	for _, k := range handoff.BundleFields {
		bundle[k] = true
		if _, ok := opts[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range opts {
		if !bundle[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var buf bytes.Buffer
	for _, k := range keys {
		if !identRe.MatchString(k) {
			return nil, fmt.Errorf("payload: option %q is not an identifier", k)
		}
		lit, err := literal(opts[k])
		if err != nil {
			return nil, fmt.Errorf("payload: option %q: %w", k, err)
		}
		fmt.Fprintf(&buf, "%s=%s\n", k, lit)
	}
	return buf.Bytes(), nil
}

// literal renders v as a Starlark expression.
func literal(v interface{}) (string, error) {
	switch v := v.(type) {
	case nil:
		return "None", nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return strconv.Quote(v), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v {
			s, err := literal(e)
			if err != nil {
				return "", err
			}
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(s)
		}
		buf.WriteByte(']')
		return buf.String(), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			s, err := literal(v[k])
			if err != nil {
				return "", err
			}
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "%s: %s", strconv.Quote(k), s)
		}
		buf.WriteByte('}')
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
