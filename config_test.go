package objectstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testParams struct {
	Bucket  string        `mapstructure:"bucket"`
	Size    int64         `mapstructure:"size"`
	Secure  bool          `mapstructure:"secure"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func TestDecodeParameters(t *testing.T) {
	var params testParams
	err := DecodeParameters("test", map[string]interface{}{
		"bucket":  "images",
		"size":    "1024", // weakly typed: strings coerce into numbers
		"secure":  true,
		"timeout": "1500ms",
	}, &params)
	require.NoError(t, err)
	assert.Equal(t, "images", params.Bucket)
	assert.Equal(t, int64(1024), params.Size)
	assert.True(t, params.Secure)
	assert.Equal(t, 1500*time.Millisecond, params.Timeout)
}

func TestDecodeParametersUnknownKey(t *testing.T) {
	var params testParams
	err := DecodeParameters("test", map[string]interface{}{
		"bucket": "images",
		"buckte": "typo",
	}, &params)
	require.Error(t, err)
	assert.Equal(t, InvalidConfig, KindOf(err))
}

func TestDecodeParametersBadValue(t *testing.T) {
	var params testParams
	err := DecodeParameters("test", map[string]interface{}{
		"timeout": "not a duration",
	}, &params)
	require.Error(t, err)
	assert.Equal(t, InvalidConfig, KindOf(err))
}
