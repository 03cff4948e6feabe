package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedFetch serves fixed pages keyed by continuation token, recording how
// many fetches happened.
func pagedFetch(pages map[string]struct {
	metas []ObjectMeta
	next  string
}, calls *int) PageFunc {
	return func(ctx context.Context, token string) ([]ObjectMeta, string, error) {
		*calls++
		page := pages[token]
		return page.metas, page.next, nil
	}
}

func metasFor(names ...string) []ObjectMeta {
	metas := make([]ObjectMeta, len(names))
	for i, n := range names {
		metas[i] = ObjectMeta{Path: MustParsePath(n)}
	}
	return metas
}

func TestIteratorDrivesPages(t *testing.T) {
	pages := map[string]struct {
		metas []ObjectMeta
		next  string
	}{
		"":   {metasFor("a", "b"), "t1"},
		"t1": {metasFor("c"), ""},
	}
	var calls int
	it := NewListIterator(context.Background(), pagedFetch(pages, &calls))

	var got []string
	for {
		meta, err := it.Next()
		if err == Done {
			break
		}
		require.NoError(t, err)
		got = append(got, meta.Path.String())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 2, calls)

	// Exhausted iterators keep returning Done.
	_, err := it.Next()
	assert.Equal(t, Done, err)
}

func TestIteratorSkipsEmptyPages(t *testing.T) {
	pages := map[string]struct {
		metas []ObjectMeta
		next  string
	}{
		"":   {nil, "t1"},
		"t1": {nil, "t2"},
		"t2": {metasFor("z"), ""},
	}
	var calls int
	it := NewListIterator(context.Background(), pagedFetch(pages, &calls))

	meta, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "z", meta.Path.String())
	assert.Equal(t, 3, calls)

	_, err = it.Next()
	assert.Equal(t, Done, err)
}

func TestIteratorStickyError(t *testing.T) {
	fetchErr := &Error{Kind: Transient, Detail: errors.New("listing failed")}
	it := NewListIterator(context.Background(), func(ctx context.Context, token string) ([]ObjectMeta, string, error) {
		return nil, "", fetchErr
	})

	_, err := it.Next()
	assert.Equal(t, fetchErr, err)
	_, err = it.Next()
	assert.Equal(t, fetchErr, err)
}

func TestIteratorCollect(t *testing.T) {
	pages := map[string]struct {
		metas []ObjectMeta
		next  string
	}{
		"":   {metasFor("a"), "t1"},
		"t1": {metasFor("b"), ""},
	}
	var calls int
	metas, err := NewListIterator(context.Background(), pagedFetch(pages, &calls)).Collect()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "a", metas[0].Path.String())
	assert.Equal(t, "b", metas[1].Path.String())

	empty, err := NewListIterator(context.Background(), pagedFetch(nil, &calls)).Collect()
	require.NoError(t, err)
	assert.Empty(t, empty)
}
