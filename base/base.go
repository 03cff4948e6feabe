// Package base provides a wrapper around a Store implementation carrying
// the checks and logging every backend shares, so adapters only implement
// backend protocol logic.
//
// The canonical approach is to embed Base in the exported adapter type
// through a private struct:
//
//	type baseEmbed struct {
//		base.Base
//	}
//
//	type Driver struct {
//		baseEmbed
//	}
//
// Calls then proxy through Base into the internal driver. An adapter that
// needs to intercept a call before the common checks implements that
// method on Driver directly.
package base

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	objectstore "github.com/jeschkies/objectstore"
)

// Base wraps a Store with argument validation and duration debug-logging.
type Base struct {
	objectstore.Store
}

// logOp returns a deferrable producing a debug log with the operation
// duration.
func (base *Base) logOp(op string, path objectstore.Path) func() {
	start := time.Now()
	return func() {
		logrus.WithFields(logrus.Fields{
			"store":    base.Store.Name(),
			"path":     path.String(),
			"duration": time.Since(start),
		}).Debug("objectstore." + op)
	}
}

func (base *Base) errRootPath() error {
	return &objectstore.Error{
		Kind:   objectstore.InvalidPath,
		Store:  base.Store.Name(),
		Detail: errNoObjectPath,
	}
}

// Put wraps Put of the underlying store.
func (base *Base) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	if path.IsRoot() {
		return objectstore.ObjectMeta{}, base.errRootPath()
	}
	defer base.logOp("Put", path)()
	return base.Store.Put(ctx, path, content)
}

// PutStream wraps PutStream of the underlying store.
func (base *Base) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	if path.IsRoot() {
		return objectstore.ObjectMeta{}, base.errRootPath()
	}
	defer base.logOp("PutStream", path)()
	return base.Store.PutStream(ctx, path, r, sizeHint)
}

// Get wraps Get of the underlying store.
func (base *Base) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	if path.IsRoot() {
		return nil, base.errRootPath()
	}
	defer base.logOp("Get", path)()
	return base.Store.Get(ctx, path)
}

// GetRange wraps GetRange of the underlying store, rejecting malformed
// ranges before any backend call.
func (base *Base) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	if path.IsRoot() {
		return nil, base.errRootPath()
	}
	if !rng.Valid() {
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidRange,
			Store:  base.Store.Name(),
			Path:   path.String(),
			Detail: errMalformedRange,
		}
	}
	defer base.logOp("GetRange", path)()
	return base.Store.GetRange(ctx, path, rng)
}

// Head wraps Head of the underlying store.
func (base *Base) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	if path.IsRoot() {
		return objectstore.ObjectMeta{}, base.errRootPath()
	}
	defer base.logOp("Head", path)()
	return base.Store.Head(ctx, path)
}

// Delete wraps Delete of the underlying store.
func (base *Base) Delete(ctx context.Context, path objectstore.Path) error {
	if path.IsRoot() {
		return base.errRootPath()
	}
	defer base.logOp("Delete", path)()
	return base.Store.Delete(ctx, path)
}

// List wraps List of the underlying store. The root prefix is valid here.
func (base *Base) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	defer base.logOp("List", prefix)()
	return base.Store.List(ctx, prefix)
}

// ListWithDelimiter wraps ListWithDelimiter of the underlying store.
func (base *Base) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	defer base.logOp("ListWithDelimiter", prefix)()
	return base.Store.ListWithDelimiter(ctx, prefix)
}

// Copy wraps Copy of the underlying store. Copying a path onto itself is a
// no-op.
func (base *Base) Copy(ctx context.Context, src, dst objectstore.Path) error {
	if src.IsRoot() || dst.IsRoot() {
		return base.errRootPath()
	}
	if src.Equal(dst) {
		return nil
	}
	defer base.logOp("Copy", src)()
	return base.Store.Copy(ctx, src, dst)
}

// Rename wraps Rename of the underlying store. Renaming a path onto itself
// is a no-op.
func (base *Base) Rename(ctx context.Context, src, dst objectstore.Path) error {
	if src.IsRoot() || dst.IsRoot() {
		return base.errRootPath()
	}
	if src.Equal(dst) {
		return nil
	}
	defer base.logOp("Rename", src)()
	return base.Store.Rename(ctx, src, dst)
}

var (
	errNoObjectPath   = errorString("the root prefix does not name an object")
	errMalformedRange = errorString("range end must be greater than a non-negative start")
)

type errorString string

func (e errorString) Error() string { return string(e) }
