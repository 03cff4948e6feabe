// Package gcs provides an objectstore.Store implementation backed by
// Google Cloud Storage.
//
// Streaming uploads use the resumable upload protocol through the client
// library's Writer; cancelling the Writer's context before Close abandons
// the session, so a failed PutStream never leaves a visible object.
// Because generations are GCS's native change token, ObjectMeta.ETag holds
// the decimal object generation.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/base"
	"github.com/jeschkies/objectstore/factory"
)

const driverName = "gcs"

// minChunkSize is the smallest resumable upload chunk GCS accepts.
const minChunkSize = 256 * 1024

const defaultChunkSize = 8 * minChunkSize

const listMax = 1000

func init() {
	factory.Register(driverName, &gcsStoreFactory{})
}

type gcsStoreFactory struct{}

func (f *gcsStoreFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return FromParameters(ctx, parameters)
}

// Parameters encapsulate the backend configuration after all values have
// been set.
type Parameters struct {
	Bucket          string        `mapstructure:"bucket"`
	CredentialsFile string        `mapstructure:"credentialsfile"`
	RootDirectory   string        `mapstructure:"rootdirectory"`
	ChunkSize       int64         `mapstructure:"chunksize"`
	RequestTimeout  time.Duration `mapstructure:"requesttimeout"`
	MaxRetries      int           `mapstructure:"maxretries"`
	RetryBackoff    time.Duration `mapstructure:"retrybackoff"`
	RetryCap        time.Duration `mapstructure:"retrycap"`
}

var _ objectstore.Store = &driver{}

type driver struct {
	client         *storage.Client
	bucket         *storage.BucketHandle
	bucketName     string
	rootDirectory  string
	chunkSize      int64
	requestTimeout time.Duration

	retry objectstore.RetryConfig
}

type baseEmbed struct {
	base.Base
}

// Driver is an objectstore.Store implementation backed by Google Cloud
// Storage.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from a parameters map.
// Required parameters:
// - bucket
func FromParameters(ctx context.Context, parameters map[string]interface{}) (*Driver, error) {
	params := Parameters{
		ChunkSize: defaultChunkSize,
	}
	if err := objectstore.DecodeParameters(driverName, parameters, &params); err != nil {
		return nil, err
	}
	return New(ctx, params)
}

func invalidConfig(format string, args ...interface{}) error {
	return &objectstore.Error{Kind: objectstore.InvalidConfig, Store: driverName, Detail: fmt.Errorf(format, args...)}
}

// New constructs a new Driver against the configured bucket. Credentials
// come from credentialsfile when set, otherwise from the ambient
// application default credentials.
func New(ctx context.Context, params Parameters) (*Driver, error) {
	if params.Bucket == "" {
		return nil, invalidConfig("no bucket parameter provided")
	}
	if params.ChunkSize < minChunkSize {
		return nil, invalidConfig("chunksize %d below minimum %d", params.ChunkSize, minChunkSize)
	}
	if params.ChunkSize%minChunkSize != 0 {
		return nil, invalidConfig("chunksize %d is not a multiple of %d", params.ChunkSize, minChunkSize)
	}

	var opts []option.ClientOption
	if params.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(params.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, invalidConfig("failed to create gcs client: %v", err)
	}

	// The library retry layer governs retries, so the client's own are
	// disabled.
	bucket := client.Bucket(params.Bucket).Retryer(storage.WithPolicy(storage.RetryNever))

	d := &driver{
		client:         client,
		bucket:         bucket,
		bucketName:     params.Bucket,
		rootDirectory:  strings.Trim(params.RootDirectory, "/"),
		chunkSize:      params.ChunkSize,
		requestTimeout: params.RequestTimeout,
		retry: objectstore.RetryConfig{
			MaxAttempts:    params.MaxRetries,
			InitialBackoff: params.RetryBackoff,
			MaxBackoff:     params.RetryCap,
		},
	}
	return &Driver{baseEmbed{base.Base{Store: d}}}, nil
}

// Implement the objectstore.Store interface.

func (d *driver) Name() string {
	return driverName
}

func (d *driver) gcsKey(path objectstore.Path) string {
	if d.rootDirectory == "" {
		return path.String()
	}
	return d.rootDirectory + "/" + path.String()
}

func (d *driver) keyToPath(key string) (objectstore.Path, error) {
	if d.rootDirectory != "" {
		key = strings.TrimPrefix(key, d.rootDirectory+"/")
	}
	return objectstore.ParsePath(key)
}

// do wraps one backend call with the per-request timeout and the retry
// layer. op must return errors already mapped through parseError.
func (d *driver) do(ctx context.Context, op func(ctx context.Context) error) error {
	return objectstore.DoRetry(ctx, d.retry, func() error {
		callCtx := ctx
		if d.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.requestTimeout)
			defer cancel()
		}
		return op(callCtx)
	})
}

// parseError maps a provider failure into the error taxonomy.
func parseError(path objectstore.Path, err error) error {
	if err == nil {
		return nil
	}

	kind := objectstore.Generic
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		kind = objectstore.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		kind = objectstore.Transient
	default:
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			switch {
			case gerr.Code == 404:
				kind = objectstore.NotFound
			case gerr.Code == 401 || gerr.Code == 403:
				kind = objectstore.PermissionDenied
			case gerr.Code == 416:
				kind = objectstore.InvalidRange
			case gerr.Code == 429 || gerr.Code >= 500:
				kind = objectstore.Transient
			}
		}
	}

	return &objectstore.Error{Kind: kind, Store: driverName, Path: path.String(), Detail: err}
}

func metaFromAttrs(path objectstore.Path, attrs *storage.ObjectAttrs) objectstore.ObjectMeta {
	return objectstore.ObjectMeta{
		Path:         path,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		ETag:         strconv.FormatInt(attrs.Generation, 10),
	}
}

func (d *driver) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()

		w := d.bucket.Object(d.gcsKey(path)).NewWriter(wctx)
		// ChunkSize 0 sends the payload in a single request instead of
		// opening a resumable session.
		w.ChunkSize = 0
		w.ContentType = "application/octet-stream"
		if _, err := w.Write(content); err != nil {
			cancel()
			return parseError(path, err)
		}
		if err := w.Close(); err != nil {
			return parseError(path, err)
		}
		meta = metaFromAttrs(path, w.Attrs())
		return nil
	})
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	return meta, nil
}

// PutStream uploads through a resumable session. The source reader cannot
// be rewound, so unlike the bounded-payload operations this one is not
// retried as a whole.
func (d *driver) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	if sizeHint >= 0 && sizeHint <= d.chunkSize {
		content, err := io.ReadAll(r)
		if err != nil {
			return objectstore.ObjectMeta{}, &objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: err,
			}
		}
		return d.Put(ctx, path, content)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := d.bucket.Object(d.gcsKey(path)).NewWriter(wctx)
	w.ChunkSize = int(d.chunkSize)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close abandons the resumable session; the
		// object is never committed.
		cancel()
		return objectstore.ObjectMeta{}, parseError(path, err)
	}
	if err := w.Close(); err != nil {
		return objectstore.ObjectMeta{}, parseError(path, err)
	}
	return metaFromAttrs(path, w.Attrs()), nil
}

func (d *driver) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	return d.newReader(ctx, path, 0, -1)
}

func (d *driver) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	return d.newReader(ctx, path, rng.Start, rng.End-rng.Start)
}

func (d *driver) newReader(ctx context.Context, path objectstore.Path, offset, length int64) (*objectstore.GetResult, error) {
	var result *objectstore.GetResult
	err := d.do(ctx, func(ctx context.Context) error {
		r, err := d.bucket.Object(d.gcsKey(path)).NewRangeReader(ctx, offset, length)
		if err != nil {
			// The client reports an out-of-bounds offset itself rather
			// than surfacing the service's 416.
			if offset > 0 && strings.Contains(err.Error(), "InvalidRange") {
				return &objectstore.Error{
					Kind: objectstore.InvalidRange, Store: driverName, Path: path.String(), Detail: err,
				}
			}
			return parseError(path, err)
		}
		// An offset of zero never trips the client's bounds check, so a
		// range read of an empty object opens successfully. Range reads
		// carry a non-negative length; plain reads pass -1 and may see
		// empty objects.
		if length >= 0 && offset >= r.Attrs.Size {
			r.Close()
			return &objectstore.Error{
				Kind:   objectstore.InvalidRange,
				Store:  driverName,
				Path:   path.String(),
				Detail: fmt.Errorf("range start %d outside object of %d bytes", offset, r.Attrs.Size),
			}
		}
		result = &objectstore.GetResult{
			Meta: objectstore.ObjectMeta{
				Path: path,
				// Remain is the body length: the clipped range for range
				// reads, the object size otherwise.
				Size:         r.Remain(),
				LastModified: r.Attrs.LastModified,
				ETag:         strconv.FormatInt(r.Attrs.Generation, 10),
			},
			Body: r,
		}
		return nil
	})
	return result, err
}

func (d *driver) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		attrs, err := d.bucket.Object(d.gcsKey(path)).Attrs(ctx)
		if err != nil {
			return parseError(path, err)
		}
		meta = metaFromAttrs(path, attrs)
		return nil
	})
	return meta, err
}

// Delete is idempotent: an already-absent object is a success.
func (d *driver) Delete(ctx context.Context, path objectstore.Path) error {
	return d.do(ctx, func(ctx context.Context) error {
		err := d.bucket.Object(d.gcsKey(path)).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return parseError(path, err)
	})
}

func (d *driver) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	keyPrefix := d.gcsKey(prefix)
	if prefix.IsRoot() {
		keyPrefix = d.rootDirectory
	}

	// One ObjectIterator serves the whole listing; the continuation token
	// is only a has-more marker since the iterator keeps its own cursor.
	objects := d.bucket.Objects(ctx, &storage.Query{Prefix: keyPrefix})

	return objectstore.NewListIterator(ctx, func(ctx context.Context, token string) ([]objectstore.ObjectMeta, string, error) {
		var metas []objectstore.ObjectMeta
		for len(metas) < listMax {
			attrs, err := objects.Next()
			if err == iterator.Done {
				return metas, "", nil
			}
			if err != nil {
				return nil, "", parseError(prefix, err)
			}
			if !objectstore.UnderPrefix(attrs.Name, keyPrefix) {
				continue
			}
			p, perr := d.keyToPath(attrs.Name)
			if perr != nil {
				continue
			}
			metas = append(metas, metaFromAttrs(p, attrs))
		}
		return metas, "more", nil
	})
}

func (d *driver) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	keyPrefix := d.gcsKey(prefix)
	if prefix.IsRoot() {
		keyPrefix = d.rootDirectory
	}
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	result := &objectstore.ListResult{}
	objects := d.bucket.Objects(ctx, &storage.Query{Prefix: keyPrefix, Delimiter: "/"})
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			return result, nil
		}
		if err != nil {
			return nil, parseError(prefix, err)
		}
		if attrs.Prefix != "" {
			p, perr := d.keyToPath(strings.TrimSuffix(attrs.Prefix, "/"))
			if perr != nil {
				continue
			}
			result.CommonPrefixes = append(result.CommonPrefixes, p)
			continue
		}
		p, perr := d.keyToPath(attrs.Name)
		if perr != nil {
			continue
		}
		result.Objects = append(result.Objects, metaFromAttrs(p, attrs))
	}
}

// Copy duplicates bytes and metadata server-side with the rewrite API.
func (d *driver) Copy(ctx context.Context, src, dst objectstore.Path) error {
	return d.do(ctx, func(ctx context.Context) error {
		copier := d.bucket.Object(d.gcsKey(dst)).CopierFrom(d.bucket.Object(d.gcsKey(src)))
		_, err := copier.Run(ctx)
		return parseError(src, err)
	})
}

// Rename is Copy followed by Delete; GCS has no native move, so the pair
// is not atomic.
func (d *driver) Rename(ctx context.Context, src, dst objectstore.Path) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// SignedURL implements objectstore.URLSigner with a V4 signed GET URL.
func (d *Driver) SignedURL(path objectstore.Path, expires time.Duration) (string, error) {
	d2 := d.Base.Store.(*driver)
	url, err := d2.bucket.SignedURL(d2.gcsKey(path), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expires),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", parseError(path, err)
	}
	return url, nil
}
