package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	sherr "stagehand/internal/errors"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, parent, leaf string
	}{
		{"pkg", "", "pkg"},
		{"pkg.sub", "pkg", "sub"},
		{"a.b.c", "a.b", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			parent, leaf := SplitName(tt.in)
			assert.Equal(t, tt.parent, parent)
			assert.Equal(t, tt.leaf, leaf)
		})
	}
}

func TestNamespace_Attrs(t *testing.T) {
	ns := New("pkg")
	ns.Update(starlark.StringDict{"x": starlark.MakeInt(1), "y": starlark.String("two")})
	child := New("pkg.sub")
	ns.Bind("sub", child)

	v, err := ns.Attr("x")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(1), v)

	v, err = ns.Attr("sub")
	require.NoError(t, err)
	assert.Same(t, child, v)

	v, err = ns.Attr("missing")
	assert.NoError(t, err)
	assert.Nil(t, v)

	assert.Equal(t, []string{"sub", "x", "y"}, ns.AttrNames())
	assert.Equal(t, `<namespace "pkg">`, ns.String())
	assert.Equal(t, "namespace", ns.Type())

	_, err = ns.Hash()
	assert.Error(t, err)
}

func TestNamespace_SetOverwrites(t *testing.T) {
	ns := New("helpers")
	ns.Set("verbose", starlark.MakeInt(0))
	ns.Set("verbose", starlark.MakeInt(3))

	v, ok := ns.Get("verbose")
	require.True(t, ok)
	assert.Equal(t, starlark.MakeInt(3), v)
}

func TestNamespace_SetField(t *testing.T) {
	ns := New("helpers")
	require.NoError(t, ns.SetField("logprefix", starlark.String(" s: ")))

	v, err := ns.Attr("logprefix")
	require.NoError(t, err)
	assert.Equal(t, starlark.String(" s: "), v)
}

func TestNamespace_ScopeIsLiveAndHidden(t *testing.T) {
	ns := New("pkg")
	ns.Set("x", starlark.MakeInt(1))
	table := ns.Scope(starlark.StringDict{
		"json": starlark.String("builtin"),
		"x":    starlark.String("shadowed"),
	})

	assert.Equal(t, starlark.MakeInt(1), table["x"], "existing bindings win over the environment")
	assert.Equal(t, []string{"x"}, ns.AttrNames())
	_, ok := ns.Get("json")
	assert.False(t, ok)

	ns.Set("y", starlark.True)
	assert.Equal(t, starlark.True, table["y"], "writes land in the table the unit reads")

	ns.Set("json", starlark.MakeInt(2))
	v, ok := ns.Get("json")
	require.True(t, ok, "a write makes an environment name an attribute")
	assert.Equal(t, starlark.MakeInt(2), v)
	assert.Contains(t, ns.Members(), "json")
}

func TestHasParent(t *testing.T) {
	assert.False(t, HasParent("pkg"))
	assert.True(t, HasParent("pkg.sub"))
	assert.True(t, HasParent(".foo"))
	parent, leaf := SplitName(".foo")
	assert.Equal(t, "", parent)
	assert.Equal(t, "foo", leaf)
}

func TestNamespace_MembersIsCopy(t *testing.T) {
	ns := New("pkg")
	ns.Set("a", starlark.True)
	m := ns.Members()
	m["b"] = starlark.False

	_, ok := ns.Get("b")
	assert.False(t, ok)
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	first := New("pkg")
	second := New("pkg")

	assert.False(t, r.Register(first))
	assert.False(t, r.Register(New("other")))
	assert.True(t, r.Register(second))

	got, ok := r.Lookup("pkg")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"pkg", "other"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_MustLookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.MustLookup("nope")

	var le *sherr.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "namespace", le.Kind)
	assert.Equal(t, "nope", le.Name)
}
