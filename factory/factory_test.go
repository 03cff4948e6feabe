package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objectstore "github.com/jeschkies/objectstore"
)

type stubFactory struct {
	store objectstore.Store
}

func (f *stubFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return f.store, nil
}

func TestRegisterAndCreate(t *testing.T) {
	Register("stub", &stubFactory{})

	store, err := Create(context.Background(), "stub", nil)
	require.NoError(t, err)
	assert.Nil(t, store)

	assert.Contains(t, Backends(), "stub")
}

func TestCreateUnregistered(t *testing.T) {
	_, err := Create(context.Background(), "no-such-backend", nil)
	require.Error(t, err)
	assert.Equal(t, objectstore.InvalidConfig, objectstore.KindOf(err))
}

func TestRegisterPanics(t *testing.T) {
	assert.Panics(t, func() { Register("nil-factory", nil) })

	Register("dup", &stubFactory{})
	assert.Panics(t, func() { Register("dup", &stubFactory{}) })
}
