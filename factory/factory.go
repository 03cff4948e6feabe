// Package factory holds the registry of backend adapters and constructs a
// Store from a backend name and a configuration map. Adapters register
// themselves from their package init functions, so importing an adapter
// package is what makes its backend available:
//
//	import _ "github.com/jeschkies/objectstore/s3"
package factory

import (
	"context"
	"fmt"

	objectstore "github.com/jeschkies/objectstore"
)

// storeFactories maps backend names to their registered factories.
var storeFactories = make(map[string]StoreFactory)

// StoreFactory constructs a Store from a parameters map. Parameter keys
// are lowercase; unrecognized keys must fail with an InvalidConfig error.
type StoreFactory interface {
	Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error)
}

// Register makes a backend available by name. It panics when called twice
// with the same name or with a nil factory, as both are programmer errors.
func Register(name string, factory StoreFactory) {
	if factory == nil {
		panic("must not provide a nil StoreFactory")
	}
	if _, registered := storeFactories[name]; registered {
		panic(fmt.Sprintf("StoreFactory named %s already registered", name))
	}
	storeFactories[name] = factory
}

// Create constructs a Store for the named backend from the given
// parameters. An unregistered name fails with InvalidConfig.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (objectstore.Store, error) {
	factory, ok := storeFactories[name]
	if !ok {
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidConfig,
			Store:  name,
			Detail: fmt.Errorf("no backend registered under %q", name),
		}
	}
	return factory.Create(ctx, parameters)
}

// Backends returns the registered backend names, for diagnostics.
func Backends() []string {
	names := make([]string, 0, len(storeFactories))
	for name := range storeFactories {
		names = append(names, name)
	}
	return names
}
