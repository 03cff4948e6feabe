package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/testsuites"
)

// TestAzureStoreSuite runs the conformance suite against a live container.
// It is skipped unless AZURE_STORAGE_ACCOUNT_NAME, AZURE_STORAGE_ACCOUNT_KEY
// and AZURE_STORAGE_CONTAINER are set.
func TestAzureStoreSuite(t *testing.T) {
	accountName := os.Getenv("AZURE_STORAGE_ACCOUNT_NAME")
	accountKey := os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
	container := os.Getenv("AZURE_STORAGE_CONTAINER")
	if accountName == "" || accountKey == "" || container == "" {
		t.Skip("azure credentials not set, skipping live azure conformance suite")
	}

	suite.Run(t, &testsuites.StoreSuite{
		Constructor: func() (objectstore.Store, error) {
			return FromParameters(map[string]interface{}{
				"accountname":   accountName,
				"accountkey":    accountKey,
				"container":     container,
				"rootdirectory": "objectstore-conformance",
			})
		},
		// Above the block size, so PutStream stages multiple blocks.
		LargeObjectSize: 2*defaultChunkSize + 1,
	})
}

func TestNewValidation(t *testing.T) {
	// A well-formed base64 account key, required by the shared key
	// credential constructor.
	key := base64.StdEncoding.EncodeToString([]byte("secret"))

	cases := []struct {
		name   string
		params Parameters
	}{
		{"missing accountname", Parameters{AccountKey: key, Container: "c", ChunkSize: defaultChunkSize}},
		{"missing accountkey", Parameters{AccountName: "a", Container: "c", ChunkSize: defaultChunkSize}},
		{"missing container", Parameters{AccountName: "a", AccountKey: key, ChunkSize: defaultChunkSize}},
		{"zero chunksize", Parameters{AccountName: "a", AccountKey: key, Container: "c"}},
	}
	for _, c := range cases {
		_, err := New(c.params)
		require.Error(t, err, c.name)
		assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err), c.name)
	}

	d, err := New(Parameters{
		AccountName: "account",
		AccountKey:  key,
		Container:   "container",
		Realm:       "core.windows.net",
		ChunkSize:   defaultChunkSize,
	})
	require.NoError(t, err)
	assert.Equal(t, "azure", d.Name())
}

func TestFromParametersUnknownKey(t *testing.T) {
	_, err := FromParameters(map[string]interface{}{
		"accountname": "a",
		"accountkey":  base64.StdEncoding.EncodeToString([]byte("secret")),
		"container":   "c",
		"bogus":       true,
	})
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))
}

// Block IDs must be base64 and equal length for every block in a blob.
func TestBlockIDs(t *testing.T) {
	a := blockID(0)
	b := blockID(12345)
	assert.Equal(t, len(a), len(b))
	for _, id := range []string{a, b} {
		_, err := base64.StdEncoding.DecodeString(id)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, a, b)
}

func TestParseErrorFallbacks(t *testing.T) {
	path := objectstore.MustParsePath("a/b")

	assert.NoError(t, parseError(path, nil))
	assert.Equal(t, objectstore.Generic, objectstore.KindOf(parseError(path, errors.New("plain"))))
	assert.Equal(t, objectstore.Transient, objectstore.KindOf(parseError(path, context.DeadlineExceeded)))
}
