// Package inmemory provides a heap-backed objectstore.Store. It is
// intended for tests and local development; contents do not survive the
// process.
package inmemory

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/base"
	"github.com/jeschkies/objectstore/factory"
)

const driverName = "inmemory"

// defaultPageSize matches the page sizes of the cloud backends so that
// listings exercise the same pagination machinery.
const defaultPageSize = 1000

func init() {
	factory.Register(driverName, &inMemoryStoreFactory{})
}

type inMemoryStoreFactory struct{}

func (f *inMemoryStoreFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return FromParameters(parameters)
}

// Parameters configure the in-memory backend.
type Parameters struct {
	// PageSize bounds how many entries a single listing page yields.
	// Tests lower it to force multi-page listings.
	PageSize int `mapstructure:"pagesize"`
}

type object struct {
	data    []byte
	modTime time.Time
	etag    string
}

type driver struct {
	mu       sync.RWMutex
	objects  map[string]object
	pageSize int
}

type baseEmbed struct {
	base.Base
}

// Driver is an objectstore.Store holding all objects in process memory.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from a parameters map.
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := Parameters{PageSize: defaultPageSize}
	if err := objectstore.DecodeParameters(driverName, parameters, &params); err != nil {
		return nil, err
	}
	if params.PageSize <= 0 {
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidConfig,
			Store:  driverName,
			Detail: fmt.Errorf("pagesize must be positive, got %d", params.PageSize),
		}
	}
	return New(params), nil
}

// New constructs a new empty Driver.
func New(params Parameters) *Driver {
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	d := &driver{
		objects:  make(map[string]object),
		pageSize: params.PageSize,
	}
	return &Driver{baseEmbed{base.Base{Store: d}}}
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) notFound(path objectstore.Path) error {
	return &objectstore.Error{Kind: objectstore.NotFound, Store: driverName, Path: path.String()}
}

func (d *driver) meta(key string, obj object) objectstore.ObjectMeta {
	p, _ := objectstore.ParsePath(key)
	return objectstore.ObjectMeta{
		Path:         p,
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
		ETag:         obj.etag,
	}
}

func (d *driver) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	obj := object{
		data:    append([]byte(nil), content...),
		modTime: time.Now().UTC(),
		etag:    fmt.Sprintf("%x", md5.Sum(content)),
	}

	d.mu.Lock()
	d.objects[path.String()] = obj
	d.mu.Unlock()

	return d.meta(path.String(), obj), nil
}

func (d *driver) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	// Staging the full payload before touching the map gives the
	// all-or-nothing guarantee: a failing source leaves nothing visible.
	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return objectstore.ObjectMeta{}, &objectstore.Error{
			Kind:   objectstore.Generic,
			Store:  driverName,
			Path:   path.String(),
			Detail: err,
		}
	}
	return d.Put(ctx, path, buf.Bytes())
}

func (d *driver) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	d.mu.RLock()
	obj, ok := d.objects[path.String()]
	d.mu.RUnlock()
	if !ok {
		return nil, d.notFound(path)
	}
	return &objectstore.GetResult{
		Meta: d.meta(path.String(), obj),
		Body: io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (d *driver) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	d.mu.RLock()
	obj, ok := d.objects[path.String()]
	d.mu.RUnlock()
	if !ok {
		return nil, d.notFound(path)
	}
	size := int64(len(obj.data))
	if rng.Start >= size {
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidRange,
			Store:  driverName,
			Path:   path.String(),
			Detail: fmt.Errorf("range %s outside object of %d bytes", rng, size),
		}
	}
	end := rng.End
	if end > size {
		end = size
	}
	meta := d.meta(path.String(), obj)
	meta.Size = end - rng.Start
	return &objectstore.GetResult{
		Meta: meta,
		Body: io.NopCloser(bytes.NewReader(obj.data[rng.Start:end])),
	}, nil
}

func (d *driver) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	d.mu.RLock()
	obj, ok := d.objects[path.String()]
	d.mu.RUnlock()
	if !ok {
		return objectstore.ObjectMeta{}, d.notFound(path)
	}
	return d.meta(path.String(), obj), nil
}

func (d *driver) Delete(ctx context.Context, path objectstore.Path) error {
	d.mu.Lock()
	delete(d.objects, path.String())
	d.mu.Unlock()
	return nil
}

// sortedKeys snapshots the keys under prefix that sort after the cursor,
// mirroring the start-after pagination of the cloud backends.
func (d *driver) sortedKeys(prefix, after string) []string {
	d.mu.RLock()
	keys := make([]string, 0, len(d.objects))
	for key := range d.objects {
		if key > after && objectstore.UnderPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	d.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (d *driver) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	return objectstore.NewListIterator(ctx, func(ctx context.Context, token string) ([]objectstore.ObjectMeta, string, error) {
		if err := ctx.Err(); err != nil {
			return nil, "", &objectstore.Error{Kind: objectstore.Transient, Store: driverName, Detail: err}
		}
		keys := d.sortedKeys(prefix.String(), token)
		if len(keys) > d.pageSize {
			keys = keys[:d.pageSize]
		}

		metas := make([]objectstore.ObjectMeta, 0, len(keys))
		d.mu.RLock()
		for _, key := range keys {
			if obj, ok := d.objects[key]; ok {
				metas = append(metas, d.meta(key, obj))
			}
		}
		d.mu.RUnlock()

		next := ""
		if len(keys) == d.pageSize {
			next = keys[len(keys)-1]
		}
		return metas, next, nil
	})
}

func (d *driver) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	dirPrefix := prefix.String()
	if dirPrefix != "" {
		dirPrefix += "/"
	}

	result := &objectstore.ListResult{}
	seen := make(map[string]bool)
	for _, key := range d.sortedKeys(prefix.String(), "") {
		rel := strings.TrimPrefix(key, dirPrefix)
		if i := strings.Index(rel, "/"); i >= 0 {
			group := dirPrefix + rel[:i]
			if !seen[group] {
				seen[group] = true
				p, _ := objectstore.ParsePath(group)
				result.CommonPrefixes = append(result.CommonPrefixes, p)
			}
			continue
		}
		d.mu.RLock()
		obj, ok := d.objects[key]
		d.mu.RUnlock()
		if ok {
			result.Objects = append(result.Objects, d.meta(key, obj))
		}
	}
	return result, nil
}

func (d *driver) Copy(ctx context.Context, src, dst objectstore.Path) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[src.String()]
	if !ok {
		return d.notFound(src)
	}
	d.objects[dst.String()] = object{
		data:    append([]byte(nil), obj.data...),
		modTime: time.Now().UTC(),
		etag:    obj.etag,
	}
	return nil
}

// Rename is atomic: the map swap happens under one lock.
func (d *driver) Rename(ctx context.Context, src, dst objectstore.Path) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[src.String()]
	if !ok {
		return d.notFound(src)
	}
	d.objects[dst.String()] = obj
	delete(d.objects, src.String())
	return nil
}
