package gcs

import (
	"context"
	"errors"
	"os"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/api/googleapi"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/testsuites"
)

// TestGCSStoreSuite runs the conformance suite against a live bucket. It is
// skipped unless GCS_BUCKET is set; credentials come from
// GOOGLE_APPLICATION_CREDENTIALS or the ambient default credentials.
func TestGCSStoreSuite(t *testing.T) {
	bucket := os.Getenv("GCS_BUCKET")
	if bucket == "" {
		t.Skip("GCS_BUCKET not set, skipping live gcs conformance suite")
	}

	suite.Run(t, &testsuites.StoreSuite{
		Constructor: func() (objectstore.Store, error) {
			return FromParameters(context.Background(), map[string]interface{}{
				"bucket":        bucket,
				"rootdirectory": "objectstore-conformance",
			})
		},
		// Above the resumable chunk size, so PutStream spans sessions.
		LargeObjectSize: 2*defaultChunkSize + minChunkSize,
	})
}

// Parameter validation happens before any client is constructed, so these
// run without credentials.
func TestNewValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Parameters{ChunkSize: defaultChunkSize})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err), "missing bucket")

	_, err = New(ctx, Parameters{Bucket: "b", ChunkSize: minChunkSize - 1})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err), "chunk below minimum")

	_, err = New(ctx, Parameters{Bucket: "b", ChunkSize: minChunkSize + 1})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err), "chunk not a multiple")
}

func TestFromParametersUnknownKey(t *testing.T) {
	_, err := FromParameters(context.Background(), map[string]interface{}{
		"bucket": "b",
		"bogus":  true,
	})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))
}

func TestParseError(t *testing.T) {
	path := objectstore.MustParsePath("a/b")

	cases := []struct {
		err  error
		want objectstore.Kind
	}{
		{storage.ErrObjectNotExist, objectstore.NotFound},
		{storage.ErrBucketNotExist, objectstore.NotFound},
		{&googleapi.Error{Code: 404}, objectstore.NotFound},
		{&googleapi.Error{Code: 403}, objectstore.PermissionDenied},
		{&googleapi.Error{Code: 416}, objectstore.InvalidRange},
		{&googleapi.Error{Code: 429}, objectstore.Transient},
		{&googleapi.Error{Code: 503}, objectstore.Transient},
		{context.DeadlineExceeded, objectstore.Transient},
		{errors.New("plain"), objectstore.Generic},
	}
	for _, c := range cases {
		got := parseError(path, c.err)
		assert.Equal(t, c.want, objectstore.KindOf(got), "error %v", c.err)
	}

	assert.NoError(t, parseError(path, nil))
}

func TestKeyMapping(t *testing.T) {
	d := &driver{rootDirectory: "prefix"}
	p := objectstore.MustParsePath("a/b")
	assert.Equal(t, "prefix/a/b", d.gcsKey(p))

	back, err := d.keyToPath("prefix/a/b")
	require.NoError(t, err)
	assert.True(t, p.Equal(back))
}
