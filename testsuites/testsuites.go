// Package testsuites holds the conformance suite every Store backend must
// pass. Backend test packages embed StoreSuite and provide a constructor;
// the suite exercises the shared semantics: atomic overwrites, idempotent
// deletes, lazy lexicographic listings, half-open ranges and abort-on-error
// streaming.
package testsuites

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"sort"
	"time"

	"github.com/stretchr/testify/suite"

	objectstore "github.com/jeschkies/objectstore"
)

// StoreSuite is the backend conformance suite. Each backend test package
// instantiates it with a Constructor; all objects are created below a
// random per-run prefix and removed when the suite finishes, so suites may
// share a live bucket.
type StoreSuite struct {
	suite.Suite

	// Constructor builds the Store under test.
	Constructor func() (objectstore.Store, error)

	// LargeObjectSize is the payload size used to exercise the streaming
	// upload path. Backend packages set it above their part size so that
	// PutStream actually splits the payload; it defaults to 2 MiB.
	LargeObjectSize int64

	Store objectstore.Store

	ctx       context.Context
	runPrefix string
}

func (s *StoreSuite) SetupSuite() {
	if s.LargeObjectSize == 0 {
		s.LargeObjectSize = 2 * 1024 * 1024
	}
	store, err := s.Constructor()
	s.Require().NoError(err)
	s.Store = store
	s.ctx = context.Background()
	s.runPrefix = fmt.Sprintf("conformance-%d-%04d", time.Now().UnixNano(), mrand.Intn(10000))
}

func (s *StoreSuite) TearDownSuite() {
	if s.Store == nil {
		return
	}
	metas, err := s.Store.List(s.ctx, objectstore.MustParsePath(s.runPrefix)).Collect()
	if err != nil {
		return
	}
	for _, meta := range metas {
		_ = s.Store.Delete(s.ctx, meta.Path)
	}
}

// path returns a Path below the suite's run prefix.
func (s *StoreSuite) path(rel string) objectstore.Path {
	return objectstore.MustParsePath(s.runPrefix + "/" + rel)
}

func randomContents(size int64) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func (s *StoreSuite) TestPutGetRoundTrip() {
	path := s.path("roundtrip/object")
	contents := randomContents(512)

	meta, err := s.Store.Put(s.ctx, path, contents)
	s.Require().NoError(err)
	s.Equal(path, meta.Path)
	s.Equal(int64(len(contents)), meta.Size)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents, got)
	s.Equal(int64(len(contents)), res.Meta.Size)
}

func (s *StoreSuite) TestPutEmptyObject() {
	path := s.path("roundtrip/empty")

	meta, err := s.Store.Put(s.ctx, path, nil)
	s.Require().NoError(err)
	s.Zero(meta.Size)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *StoreSuite) TestPutOverwrites() {
	path := s.path("roundtrip/overwrite")

	_, err := s.Store.Put(s.ctx, path, []byte("first version, longer"))
	s.Require().NoError(err)
	_, err = s.Store.Put(s.ctx, path, []byte("second"))
	s.Require().NoError(err)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal([]byte("second"), got)
}

func (s *StoreSuite) TestPutRootRejected() {
	_, err := s.Store.Put(s.ctx, objectstore.Path{}, []byte("x"))
	s.Equal(objectstore.InvalidPath, objectstore.KindOf(err))
}

func (s *StoreSuite) TestPutStreamLarge() {
	path := s.path("stream/large")
	contents := randomContents(s.LargeObjectSize)

	meta, err := s.Store.PutStream(s.ctx, path, bytes.NewReader(contents), int64(len(contents)))
	s.Require().NoError(err)
	s.Equal(int64(len(contents)), meta.Size)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents, got)
}

func (s *StoreSuite) TestPutStreamUnknownSize() {
	path := s.path("stream/unknown-size")
	contents := randomContents(s.LargeObjectSize)

	// A negative hint must not change the outcome.
	meta, err := s.Store.PutStream(s.ctx, path, bytes.NewReader(contents), -1)
	s.Require().NoError(err)
	s.Equal(int64(len(contents)), meta.Size)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents, got)
}

func (s *StoreSuite) TestPutStreamEmpty() {
	path := s.path("stream/empty")

	meta, err := s.Store.PutStream(s.ctx, path, bytes.NewReader(nil), -1)
	s.Require().NoError(err)
	s.Zero(meta.Size)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Empty(got)
}

// failingReader yields some bytes, then fails.
type failingReader struct {
	remaining int64
}

var errReaderBroken = errors.New("source stream broke")

func (f *failingReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, errReaderBroken
	}
	n := int64(len(p))
	if n > f.remaining {
		n = f.remaining
	}
	f.remaining -= n
	return int(n), nil
}

func (s *StoreSuite) TestPutStreamAbortLeavesNothing() {
	path := s.path("stream/aborted")

	_, err := s.Store.PutStream(s.ctx, path, &failingReader{remaining: s.LargeObjectSize}, 2*s.LargeObjectSize)
	s.Require().Error(err)

	_, err = s.Store.Head(s.ctx, path)
	s.True(objectstore.IsNotFound(err), "aborted stream must leave no visible object, got %v", err)
}

func (s *StoreSuite) TestGetNotFound() {
	_, err := s.Store.Get(s.ctx, s.path("missing/object"))
	s.True(objectstore.IsNotFound(err), "expected NotFound, got %v", err)

	_, err = s.Store.Head(s.ctx, s.path("missing/object"))
	s.True(objectstore.IsNotFound(err), "expected NotFound, got %v", err)
}

func (s *StoreSuite) TestGetRange() {
	path := s.path("range/object")
	contents := []byte("0123456789abcdef")
	_, err := s.Store.Put(s.ctx, path, contents)
	s.Require().NoError(err)

	// Interior range.
	res, err := s.Store.GetRange(s.ctx, path, objectstore.Range{Start: 4, End: 10})
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents[4:10], got)

	// End past the object length is clipped.
	res, err = s.Store.GetRange(s.ctx, path, objectstore.Range{Start: 10, End: 100})
	s.Require().NoError(err)
	got, err = res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents[10:], got)

	// Start at the object length fails.
	_, err = s.Store.GetRange(s.ctx, path, objectstore.Range{Start: int64(len(contents)), End: int64(len(contents)) + 1})
	s.Equal(objectstore.InvalidRange, objectstore.KindOf(err))

	// Any range on an empty object starts past its end.
	empty := s.path("range/empty")
	_, err = s.Store.Put(s.ctx, empty, nil)
	s.Require().NoError(err)
	_, err = s.Store.GetRange(s.ctx, empty, objectstore.Range{Start: 0, End: 5})
	s.Equal(objectstore.InvalidRange, objectstore.KindOf(err))

	// Malformed ranges fail without touching the backend.
	_, err = s.Store.GetRange(s.ctx, path, objectstore.Range{Start: 5, End: 5})
	s.Equal(objectstore.InvalidRange, objectstore.KindOf(err))
	_, err = s.Store.GetRange(s.ctx, path, objectstore.Range{Start: -1, End: 5})
	s.Equal(objectstore.InvalidRange, objectstore.KindOf(err))
}

func (s *StoreSuite) TestDeleteIdempotent() {
	path := s.path("delete/object")
	_, err := s.Store.Put(s.ctx, path, []byte("x"))
	s.Require().NoError(err)

	s.Require().NoError(s.Store.Delete(s.ctx, path))
	_, err = s.Store.Head(s.ctx, path)
	s.True(objectstore.IsNotFound(err))

	// Deleting again is still a success.
	s.NoError(s.Store.Delete(s.ctx, path))
	s.NoError(s.Store.Delete(s.ctx, s.path("delete/never-existed")))
}

func (s *StoreSuite) TestDeleteIntermediatePath() {
	child := s.path("delete/tree/child")
	_, err := s.Store.Put(s.ctx, child, []byte("x"))
	s.Require().NoError(err)

	// No object is stored at "delete/tree" itself, only below it, so the
	// delete succeeds and leaves the deeper object alone.
	s.NoError(s.Store.Delete(s.ctx, s.path("delete/tree")))
	_, err = s.Store.Head(s.ctx, child)
	s.NoError(err)
}

func (s *StoreSuite) TestListOrderAndPrefixBoundary() {
	rels := []string{"list/a", "list/a/b", "list/a/c", "list/ab", "list/b"}
	for _, rel := range rels {
		_, err := s.Store.Put(s.ctx, s.path(rel), []byte(rel))
		s.Require().NoError(err)
	}

	metas, err := s.Store.List(s.ctx, s.path("list")).Collect()
	s.Require().NoError(err)
	var got []string
	for _, meta := range metas {
		got = append(got, meta.Path.String())
	}
	s.True(sort.StringsAreSorted(got), "listing must be lexicographic: %v", got)
	s.Len(got, len(rels))

	// Prefix matching respects segment boundaries: "ab" is not under "a".
	metas, err = s.Store.List(s.ctx, s.path("list/a")).Collect()
	s.Require().NoError(err)
	got = got[:0]
	for _, meta := range metas {
		got = append(got, meta.Path.String())
	}
	s.Equal([]string{
		s.path("list/a").String(),
		s.path("list/a/b").String(),
		s.path("list/a/c").String(),
	}, got)
}

func (s *StoreSuite) TestListEmptyPrefix() {
	metas, err := s.Store.List(s.ctx, s.path("nothing/here")).Collect()
	s.Require().NoError(err)
	s.Empty(metas)
}

func (s *StoreSuite) TestListWithDelimiter() {
	rels := []string{"delim/x", "delim/y", "delim/sub/one", "delim/sub/two", "delim/deeper/n/m"}
	for _, rel := range rels {
		_, err := s.Store.Put(s.ctx, s.path(rel), []byte(rel))
		s.Require().NoError(err)
	}

	result, err := s.Store.ListWithDelimiter(s.ctx, s.path("delim"))
	s.Require().NoError(err)

	var objects []string
	for _, meta := range result.Objects {
		objects = append(objects, meta.Path.String())
	}
	s.ElementsMatch([]string{
		s.path("delim/x").String(),
		s.path("delim/y").String(),
	}, objects)

	var prefixes []string
	for _, p := range result.CommonPrefixes {
		prefixes = append(prefixes, p.String())
	}
	s.ElementsMatch([]string{
		s.path("delim/deeper").String(),
		s.path("delim/sub").String(),
	}, prefixes)
}

func (s *StoreSuite) TestCopy() {
	src := s.path("copy/src")
	dst := s.path("copy/dst")
	contents := randomContents(1024)
	_, err := s.Store.Put(s.ctx, src, contents)
	s.Require().NoError(err)

	s.Require().NoError(s.Store.Copy(s.ctx, src, dst))

	for _, p := range []objectstore.Path{src, dst} {
		res, err := s.Store.Get(s.ctx, p)
		s.Require().NoError(err)
		got, err := res.Bytes()
		s.Require().NoError(err)
		s.Equal(contents, got)
	}

	// Copying onto itself is a no-op.
	s.NoError(s.Store.Copy(s.ctx, src, src))

	err = s.Store.Copy(s.ctx, s.path("copy/missing"), s.path("copy/elsewhere"))
	s.True(objectstore.IsNotFound(err), "expected NotFound, got %v", err)
}

func (s *StoreSuite) TestRename() {
	src := s.path("rename/src")
	dst := s.path("rename/dst")
	contents := randomContents(1024)
	_, err := s.Store.Put(s.ctx, src, contents)
	s.Require().NoError(err)

	s.Require().NoError(s.Store.Rename(s.ctx, src, dst))

	_, err = s.Store.Head(s.ctx, src)
	s.True(objectstore.IsNotFound(err), "source must be gone after rename, got %v", err)

	res, err := s.Store.Get(s.ctx, dst)
	s.Require().NoError(err)
	got, err := res.Bytes()
	s.Require().NoError(err)
	s.Equal(contents, got)

	err = s.Store.Rename(s.ctx, s.path("rename/missing"), s.path("rename/elsewhere"))
	s.True(objectstore.IsNotFound(err), "expected NotFound, got %v", err)
}

func (s *StoreSuite) TestGetBodyStreams() {
	path := s.path("stream/read")
	contents := randomContents(64 * 1024)
	_, err := s.Store.Put(s.ctx, path, contents)
	s.Require().NoError(err)

	res, err := s.Store.Get(s.ctx, path)
	s.Require().NoError(err)
	defer res.Body.Close()

	// Partial reads must hand back exactly the stored bytes in order.
	head := make([]byte, 1000)
	_, err = io.ReadFull(res.Body, head)
	s.Require().NoError(err)
	s.Equal(contents[:1000], head)

	rest, err := io.ReadAll(res.Body)
	s.Require().NoError(err)
	s.Equal(contents[1000:], rest)
}
