package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/testsuites"
)

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &testsuites.StoreSuite{
		Constructor: func() (objectstore.Store, error) {
			return New(Parameters{}), nil
		},
	})
}

// A tiny page size forces the iterator through many backend pages.
func TestInMemoryPagination(t *testing.T) {
	store := New(Parameters{PageSize: 2})
	ctx := context.Background()

	names := []string{"p/a", "p/b", "p/c", "p/d", "p/e"}
	for _, n := range names {
		_, err := store.Put(ctx, objectstore.MustParsePath(n), []byte(n))
		require.NoError(t, err)
	}

	metas, err := store.List(ctx, objectstore.MustParsePath("p")).Collect()
	require.NoError(t, err)
	require.Len(t, metas, len(names))
	for i, meta := range metas {
		assert.Equal(t, names[i], meta.Path.String())
	}
}

func TestInMemoryRenameAtomic(t *testing.T) {
	store := New(Parameters{})
	ctx := context.Background()

	src := objectstore.MustParsePath("x/src")
	dst := objectstore.MustParsePath("x/dst")
	_, err := store.Put(ctx, src, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, store.Rename(ctx, src, dst))
	_, err = store.Head(ctx, src)
	assert.True(t, objectstore.IsNotFound(err))

	res, err := store.Get(ctx, dst)
	require.NoError(t, err)
	got, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestInMemoryListWithDelimiterRoot(t *testing.T) {
	store := New(Parameters{})
	ctx := context.Background()

	for _, n := range []string{"a/1", "a/2", "b/1", "top"} {
		_, err := store.Put(ctx, objectstore.MustParsePath(n), []byte(n))
		require.NoError(t, err)
	}

	res, err := store.ListWithDelimiter(ctx, objectstore.Path{})
	require.NoError(t, err)

	require.Len(t, res.Objects, 1)
	assert.Equal(t, "top", res.Objects[0].Path.String())

	var prefixes []string
	for _, p := range res.CommonPrefixes {
		prefixes = append(prefixes, p.String())
	}
	assert.Equal(t, []string{"a", "b"}, prefixes)
}

func TestInMemoryFromParameters(t *testing.T) {
	store, err := FromParameters(map[string]interface{}{"pagesize": 10})
	require.NoError(t, err)
	assert.Equal(t, "inmemory", store.Name())

	_, err = FromParameters(map[string]interface{}{"bogus": true})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))
}
