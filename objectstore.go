// Package objectstore defines a uniform interface for storing byte blobs
// at hierarchical paths in cloud object storage or on a local filesystem.
//
// A Store is bound to exactly one backend at construction time (see the
// factory subpackage). All backends present the same semantics for partial
// failure, pagination and streaming: listings are lazy and lexicographic,
// reads stream through GetResult, writes are all-or-nothing, and every
// failure is mapped into the error taxonomy in errors.go before it crosses
// the Store boundary.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Version is a string representing the object store contract version, of
// the form Major.Minor. Backends with equal major version and greater
// minor version are accepted.
type Version string

// CurrentVersion is the current contract Version.
const CurrentVersion Version = "0.1"

// Store is the sole contract consumed by calling applications. Every
// backend adapter implements it. Implementations are safe for concurrent
// use; they hold no mutable shared state beyond connection pools.
type Store interface {
	// Name returns the backend name, e.g. "s3" or "filesystem".
	Name() string

	// Put stores content at path as a single atomic write: either the
	// full object is visible afterwards or none of it is. An existing
	// object at path is silently overwritten.
	Put(ctx context.Context, path Path, content []byte) (ObjectMeta, error)

	// PutStream stores the bytes read from r at path. Payloads larger
	// than the backend's multipart threshold are uploaded as parts;
	// smaller payloads fall back to Put. sizeHint is the expected total
	// size in bytes, or a negative value when unknown; it is advisory
	// only. A failure mid-upload aborts the backend session so that no
	// partial object is left visible.
	PutStream(ctx context.Context, path Path, r io.Reader, sizeHint int64) (ObjectMeta, error)

	// Get retrieves the object at path. The caller must close the
	// returned body; closing it early cancels the underlying transfer.
	Get(ctx context.Context, path Path) (*GetResult, error)

	// GetRange retrieves the half-open byte range [rng.Start, rng.End)
	// of the object at path. A range starting at or past the object's
	// length fails with an InvalidRange error; an End past the length is
	// clipped. The returned metadata's Size is the length of the body,
	// i.e. the clipped range, not the whole object.
	GetRange(ctx context.Context, path Path, rng Range) (*GetResult, error)

	// Head returns the object's metadata without transferring its body.
	Head(ctx context.Context, path Path) (ObjectMeta, error)

	// Delete removes the object at path. Deleting an absent object is
	// not an error.
	Delete(ctx context.Context, path Path) error

	// List lazily yields metadata for every object whose path equals
	// prefix or sits below it, in lexicographic order of the path
	// string. The zero Path lists the entire store. Backend pagination
	// is driven internally; the iterator is not restartable.
	List(ctx context.Context, prefix Path) *ListIterator

	// ListWithDelimiter returns one level of listing below prefix:
	// objects directly under it, and the common prefixes folding
	// everything deeper.
	ListWithDelimiter(ctx context.Context, prefix Path) (*ListResult, error)

	// Copy duplicates the object at src to dst, server-side where the
	// backend supports it.
	Copy(ctx context.Context, src, dst Path) error

	// Rename moves the object at src to dst. Unless the backend
	// documents a native atomic move, this is Copy followed by Delete
	// and callers must not assume atomicity.
	Rename(ctx context.Context, src, dst Path) error
}

// URLSigner is implemented by backends able to mint presigned GET URLs for
// direct client access.
type URLSigner interface {
	// SignedURL returns a URL granting read access to the object at path
	// until the expiry elapses.
	SignedURL(path Path, expires time.Duration) (string, error)
}

// ObjectMeta describes one stored object. Values are immutable once
// returned.
type ObjectMeta struct {
	// Path is the object's normalized location.
	Path Path

	// Size is the object length in bytes.
	Size int64

	// LastModified is the backend's modification timestamp.
	LastModified time.Time

	// ETag is an opaque version token, empty when the backend does not
	// supply one.
	ETag string
}

// ListResult holds one level of a delimiter-bounded listing.
type ListResult struct {
	// Objects are the entries directly below the requested prefix, in
	// lexicographic order.
	Objects []ObjectMeta

	// CommonPrefixes are the next-level groupings, one per "directory",
	// in lexicographic order.
	CommonPrefixes []Path
}

// GetResult couples an object's metadata with its body. The body is a
// finite stream and is not restartable; issue a fresh Get to re-read.
type GetResult struct {
	Meta ObjectMeta
	Body io.ReadCloser
}

// Bytes drains and closes the body, returning the full object content. It
// should primarily be used for small objects.
func (r *GetResult) Bytes() ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r Range) Length() int64 { return r.End - r.Start }

// Valid reports whether the range is well formed, independent of any
// object's length.
func (r Range) Valid() bool { return r.Start >= 0 && r.End > r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }
