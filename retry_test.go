package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fastRetry = RetryConfig{
	MaxAttempts:    4,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
}

func TestDoRetrySucceedsAfterTransient(t *testing.T) {
	attempts := 0
	err := DoRetry(context.Background(), fastRetry, func() error {
		attempts++
		if attempts < 3 {
			return &Error{Kind: Transient, Detail: errors.New("flaky")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	transient := &Error{Kind: Transient, Detail: errors.New("still down")}
	err := DoRetry(context.Background(), fastRetry, func() error {
		attempts++
		return transient
	})
	assert.Equal(t, transient, err)
	assert.Equal(t, fastRetry.MaxAttempts, attempts)
}

func TestDoRetryOnlyTransient(t *testing.T) {
	for _, kind := range []Kind{Generic, NotFound, PermissionDenied, InvalidPath, InvalidRange, InvalidConfig} {
		attempts := 0
		err := DoRetry(context.Background(), fastRetry, func() error {
			attempts++
			return &Error{Kind: kind}
		})
		assert.Equal(t, kind, KindOf(err))
		assert.Equal(t, 1, attempts, "kind %s must not be retried", kind)
	}

	// Untagged errors count as Generic.
	attempts := 0
	plain := errors.New("plain failure")
	err := DoRetry(context.Background(), fastRetry, func() error {
		attempts++
		return plain
	})
	assert.Equal(t, plain, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := DoRetry(ctx, RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour}, func() error {
		attempts++
		cancel()
		return &Error{Kind: Transient}
	})
	assert.Equal(t, 1, attempts)
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
