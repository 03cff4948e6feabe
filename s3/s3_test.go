package s3

import (
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/testsuites"
)

// TestS3StoreSuite runs the conformance suite against a live bucket. It is
// skipped unless S3_BUCKET is set; credentials come from ACCESS_KEY and
// SECRET_KEY or the ambient AWS configuration.
func TestS3StoreSuite(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set, skipping live s3 conformance suite")
	}

	suite.Run(t, &testsuites.StoreSuite{
		Constructor: func() (objectstore.Store, error) {
			return FromParameters(map[string]interface{}{
				"accesskey":      os.Getenv("ACCESS_KEY"),
				"secretkey":      os.Getenv("SECRET_KEY"),
				"bucket":         bucket,
				"region":         os.Getenv("AWS_REGION"),
				"regionendpoint": os.Getenv("REGION_ENDPOINT"),
				"forcepathstyle": os.Getenv("REGION_ENDPOINT") != "",
				"rootdirectory":  "objectstore-conformance",
			})
		},
		// Above the part size, so PutStream drives the multipart protocol.
		LargeObjectSize: defaultChunkSize + minChunkSize,
	})
}

func TestNewValidation(t *testing.T) {
	valid := Parameters{
		Bucket:          "bucket",
		Region:          "us-east-1",
		ChunkSize:       defaultChunkSize,
		PartConcurrency: defaultPartConcurrency,
		CopyChunkSize:   defaultMultipartCopyChunkSize,
		CopyThreshold:   defaultMultipartCopyThresholdSize,
	}

	cases := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"missing bucket", func(p *Parameters) { p.Bucket = "" }},
		{"missing region", func(p *Parameters) { p.Region = "" }},
		{"chunk too small", func(p *Parameters) { p.ChunkSize = minChunkSize - 1 }},
		{"chunk too large", func(p *Parameters) { p.ChunkSize = maxChunkSize + 1 }},
		{"zero concurrency", func(p *Parameters) { p.PartConcurrency = 0 }},
		{"copy chunk too small", func(p *Parameters) { p.CopyChunkSize = minChunkSize - 1 }},
	}
	for _, c := range cases {
		params := valid
		c.mutate(&params)
		_, err := New(params)
		require.Error(t, err, c.name)
		assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err), c.name)
	}

	d, err := New(valid)
	require.NoError(t, err)
	assert.Equal(t, "s3", d.Name())
}

func TestFromParametersUnknownKey(t *testing.T) {
	_, err := FromParameters(map[string]interface{}{
		"bucket": "b",
		"region": "us-east-1",
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
		{awserr.New("NoSuchKey", "missing", nil), objectstore.NotFound},
		{awserr.New("NoSuchBucket", "missing", nil), objectstore.NotFound},
		{awserr.New("AccessDenied", "denied", nil), objectstore.PermissionDenied},
		{awserr.New("InvalidRange", "bad range", nil), objectstore.InvalidRange},
		{awserr.New("SlowDown", "throttled", nil), objectstore.Transient},
		{awserr.New("RequestTimeout", "timeout", nil), objectstore.Transient},
		{awserr.NewRequestFailure(awserr.New("Whatever", "5xx", nil), http.StatusServiceUnavailable, ""), objectstore.Transient},
		{awserr.NewRequestFailure(awserr.New("Whatever", "404", nil), http.StatusNotFound, ""), objectstore.NotFound},
		{errors.New("plain"), objectstore.Generic},
	}
	for _, c := range cases {
		got := parseError(path, c.err)
		assert.Equal(t, c.want, objectstore.KindOf(got), "error %v", c.err)
	}

	assert.NoError(t, parseError(path, nil))
}

func TestKeyMapping(t *testing.T) {
	d := &driver{RootDirectory: "prefix"}
	p := objectstore.MustParsePath("a/b")
	assert.Equal(t, "prefix/a/b", d.s3Key(p))

	back, err := d.keyToPath("prefix/a/b")
	require.NoError(t, err)
	assert.True(t, p.Equal(back))

	bare := &driver{}
	assert.Equal(t, "a/b", bare.s3Key(p))
}
