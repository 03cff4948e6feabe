package metrics

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/inmemory"
)

// The wrapper must be behaviorally transparent.
func TestInstrumentedStorePassesThrough(t *testing.T) {
	store := NewInstrumentedStore(inmemory.New(inmemory.Parameters{}), "inmemory_ops", "inmemory operation latency")
	ctx := context.Background()
	path := objectstore.MustParsePath("metrics/object")

	meta, err := store.Put(ctx, path, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)

	_, err = store.PutStream(ctx, objectstore.MustParsePath("metrics/stream"), bytes.NewReader([]byte("stream")), -1)
	require.NoError(t, err)

	res, err := store.Get(ctx, path)
	require.NoError(t, err)
	got, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	res, err = store.GetRange(ctx, path, objectstore.Range{Start: 0, End: 3})
	require.NoError(t, err)
	got, err = res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("pay"), got)

	_, err = store.Head(ctx, path)
	require.NoError(t, err)

	require.NoError(t, store.Copy(ctx, path, objectstore.MustParsePath("metrics/copy")))
	require.NoError(t, store.Rename(ctx, objectstore.MustParsePath("metrics/copy"), objectstore.MustParsePath("metrics/moved")))

	result, err := store.ListWithDelimiter(ctx, objectstore.MustParsePath("metrics"))
	require.NoError(t, err)
	assert.Len(t, result.Objects, 3)

	metas, err := store.List(ctx, objectstore.MustParsePath("metrics")).Collect()
	require.NoError(t, err)
	assert.Len(t, metas, 3)

	require.NoError(t, store.Delete(ctx, path))
	_, err = store.Head(ctx, path)
	assert.True(t, objectstore.IsNotFound(err))
}

// Failures surface unchanged through the wrapper.
func TestInstrumentedStoreErrors(t *testing.T) {
	store := NewInstrumentedStore(inmemory.New(inmemory.Parameters{}), "inmemory_errs", "inmemory operation latency")

	_, err := store.Get(context.Background(), objectstore.MustParsePath("never/existed"))
	assert.True(t, objectstore.IsNotFound(err))
}
