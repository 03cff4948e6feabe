package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/testsuites"
)

func TestFilesystemStoreSuite(t *testing.T) {
	root := t.TempDir()
	suite.Run(t, &testsuites.StoreSuite{
		Constructor: func() (objectstore.Store, error) {
			return New(root)
		},
	})
}

func TestFromParametersRequiresRoot(t *testing.T) {
	_, err := FromParameters(map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))

	_, err = FromParameters(map[string]interface{}{"rootdirectory": t.TempDir(), "bogus": 1})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))

	store, err := FromParameters(map[string]interface{}{"rootdirectory": t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", store.Name())
}

// A crashed or failed write must never leave a partial object, so writes go
// through a temp file in the destination directory followed by a rename.
func TestWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, objectstore.MustParsePath("dir/obj"), []byte("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "obj", entries[0].Name())
}

func TestDeletePrunesEmptyDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	p := objectstore.MustParsePath("a/b/c/obj")
	_, err = store.Put(ctx, p, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, p))

	_, err = os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err), "empty parent directories should be pruned")

	_, err = os.Stat(root)
	assert.NoError(t, err, "the root itself must survive")
}

// A path backed only by a directory holds no object, so deleting it is the
// same as deleting a path that never existed.
func TestDeleteDirectoryPathKeepsChildren(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	child := objectstore.MustParsePath("a/b")
	_, err = store.Put(ctx, child, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, objectstore.MustParsePath("a")))

	_, err = store.Head(ctx, child)
	assert.NoError(t, err, "deleting the parent path must not touch deeper objects")
}

func TestListWithDelimiterRoot(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
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

// Rename on one filesystem is a native atomic move rather than
// copy-then-delete.
func TestRenameIsNativeMove(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	src := objectstore.MustParsePath("mv/src")
	dst := objectstore.MustParsePath("mv/dst")
	_, err = store.Put(ctx, src, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, store.Rename(ctx, src, dst))
	_, err = os.Stat(filepath.Join(root, "mv", "src"))
	assert.True(t, os.IsNotExist(err))

	res, err := store.Get(ctx, dst)
	require.NoError(t, err)
	got, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}
