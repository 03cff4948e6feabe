package objectstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: NotFound, Store: "s3", Path: "a/b", Detail: errors.New("boom")}
	assert.Equal(t, "s3: not found: a/b: boom", err.Error())

	bare := &Error{Kind: Transient}
	assert.Equal(t, "transient", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	detail := errors.New("connection reset")
	err := &Error{Kind: Transient, Store: "gcs", Detail: detail}
	assert.True(t, errors.Is(err, detail))

	wrapped := fmt.Errorf("while syncing: %w", err)
	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, Transient, e.Kind)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotFound, KindOf(&Error{Kind: NotFound}))
	assert.Equal(t, Generic, KindOf(errors.New("plain")))
	assert.Equal(t, Generic, KindOf(nil))

	wrapped := fmt.Errorf("ctx: %w", &Error{Kind: InvalidRange})
	assert.Equal(t, InvalidRange, KindOf(wrapped))
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsNotFound(&Error{Kind: NotFound}))
	assert.False(t, IsNotFound(&Error{Kind: Transient}))
	assert.True(t, IsTransient(&Error{Kind: Transient}))
	assert.False(t, IsTransient(errors.New("plain")))
}
