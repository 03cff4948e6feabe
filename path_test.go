package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathNormalizes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a/b/c", "a/b/c"},
		{"/a/b/c", "a/b/c"},
		{"a/b/c/", "a/b/c"},
		{"a//b///c", "a/b/c"},
		{"///a/", "a"},
		{"with space/and.dot", "with space/and.dot"},
	}
	for _, c := range cases {
		p, err := ParsePath(c.in)
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, p.String(), "input %q", c.in)
	}

	// Different surface strings yield equal Paths.
	a := MustParsePath("a//b/")
	b := MustParsePath("/a/b")
	assert.True(t, a.Equal(b))
}

func TestParsePathRejects(t *testing.T) {
	for _, in := range []string{"", "/", "///", "a/b\x00c", "a\x1fb", "a\x7fb", "\n"} {
		_, err := ParsePath(in)
		require.Error(t, err, "input %q", in)
		assert.Equal(t, InvalidPath, KindOf(err), "input %q", in)
	}
}

func TestPathFromSegments(t *testing.T) {
	p, err := PathFromSegments("a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", p.String())

	_, err = PathFromSegments("a", "")
	assert.Equal(t, InvalidPath, KindOf(err))
	_, err = PathFromSegments("a", "b/c")
	assert.Equal(t, InvalidPath, KindOf(err))
}

func TestPathNavigation(t *testing.T) {
	p := MustParsePath("a/b/c")
	assert.Equal(t, []string{"a", "b", "c"}, p.Segments())
	assert.Equal(t, "c", p.Base())
	assert.Equal(t, "a/b", p.Parent().String())
	assert.Equal(t, "a", p.Parent().Parent().String())
	assert.True(t, p.Parent().Parent().Parent().IsRoot())

	child, err := p.Child("d/e")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c/d/e", child.String())

	child, err = Path{}.Child("x")
	require.NoError(t, err)
	assert.Equal(t, "x", child.String())
}

func TestHasPrefixSegmentBoundary(t *testing.T) {
	a := MustParsePath("a")
	assert.True(t, MustParsePath("a").HasPrefix(a))
	assert.True(t, MustParsePath("a/b").HasPrefix(a))
	assert.False(t, MustParsePath("ab").HasPrefix(a))
	assert.False(t, MustParsePath("b/a").HasPrefix(a))

	// The root prefix covers everything.
	assert.True(t, MustParsePath("anything/at/all").HasPrefix(Path{}))
}

func TestUnderPrefix(t *testing.T) {
	assert.True(t, UnderPrefix("a/b", "a"))
	assert.True(t, UnderPrefix("a", "a"))
	assert.False(t, UnderPrefix("ab", "a"))
	assert.True(t, UnderPrefix("ab", ""))
}
