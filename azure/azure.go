// Package azure provides an objectstore.Store implementation backed by
// Microsoft Azure Blob Storage.
//
// Streaming uploads stage blocks with Put Block and make them visible with
// a single Put Block List; a failed stream simply never commits, and Azure
// garbage-collects the uncommitted blocks, so no partial blob is ever
// observable.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/base"
	"github.com/jeschkies/objectstore/factory"
)

const driverName = "azure"

// maxChunkSize caps staged blocks. Azure allows far larger blocks, but
// 4 MB keeps per-stream memory modest.
const maxChunkSize = 100 * 1024 * 1024

const defaultChunkSize = 4 * 1024 * 1024

const listMax = 1000

// copyPollInterval paces the poll loop for asynchronous blob copies.
const copyPollInterval = 100 * time.Millisecond

func init() {
	factory.Register(driverName, &azureStoreFactory{})
}

type azureStoreFactory struct{}

func (f *azureStoreFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return FromParameters(parameters)
}

// Parameters encapsulate the backend configuration after all values have
// been set.
type Parameters struct {
	AccountName    string        `mapstructure:"accountname"`
	AccountKey     string        `mapstructure:"accountkey"`
	Container      string        `mapstructure:"container"`
	Realm          string        `mapstructure:"realm"`
	RootDirectory  string        `mapstructure:"rootdirectory"`
	ChunkSize      int64         `mapstructure:"chunksize"`
	RequestTimeout time.Duration `mapstructure:"requesttimeout"`
	MaxRetries     int           `mapstructure:"maxretries"`
	RetryBackoff   time.Duration `mapstructure:"retrybackoff"`
	RetryCap       time.Duration `mapstructure:"retrycap"`
}

var _ objectstore.Store = &driver{}

type driver struct {
	client         azblob.ContainerURL
	credential     azblob.StorageAccountCredential
	container      string
	rootDirectory  string
	chunkSize      int64
	requestTimeout time.Duration

	retry objectstore.RetryConfig
}

type baseEmbed struct {
	base.Base
}

// Driver is an objectstore.Store implementation backed by Microsoft Azure
// Blob Storage.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from a parameters map.
// Required parameters:
// - accountname
// - accountkey
// - container
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := Parameters{
		Realm:     "core.windows.net",
		ChunkSize: defaultChunkSize,
	}
	if err := objectstore.DecodeParameters(driverName, parameters, &params); err != nil {
		return nil, err
	}
	return New(params)
}

func invalidConfig(format string, args ...interface{}) error {
	return &objectstore.Error{Kind: objectstore.InvalidConfig, Store: driverName, Detail: fmt.Errorf(format, args...)}
}

// New constructs a new Driver with the given Azure Storage Account
// credentials.
func New(params Parameters) (*Driver, error) {
	if params.AccountName == "" {
		return nil, invalidConfig("no accountname parameter provided")
	}
	if params.AccountKey == "" {
		return nil, invalidConfig("no accountkey parameter provided")
	}
	if params.Container == "" {
		return nil, invalidConfig("no container parameter provided")
	}
	if params.ChunkSize < 1 || params.ChunkSize > maxChunkSize {
		return nil, invalidConfig("chunksize %d outside [1, %d]", params.ChunkSize, maxChunkSize)
	}

	credential, err := azblob.NewSharedKeyCredential(params.AccountName, params.AccountKey)
	if err != nil {
		return nil, invalidConfig("invalid credentials: %v", err)
	}
	// The library retry layer governs retries, so the pipeline's own are
	// disabled.
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{
		Retry: azblob.RetryOptions{MaxTries: 1},
	})
	containerRef := fmt.Sprintf("https://%s.blob.%s/%s", params.AccountName, params.Realm, params.Container)
	containerURL, err := url.Parse(containerRef)
	if err != nil {
		return nil, invalidConfig("invalid container url %q: %v", containerRef, err)
	}

	d := &driver{
		client:         azblob.NewContainerURL(*containerURL, pipeline),
		credential:     credential,
		container:      params.Container,
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

func (d *driver) blobName(path objectstore.Path) string {
	if d.rootDirectory == "" {
		return path.String()
	}
	return d.rootDirectory + "/" + path.String()
}

func (d *driver) nameToPath(name string) (objectstore.Path, error) {
	if d.rootDirectory != "" {
		name = strings.TrimPrefix(name, d.rootDirectory+"/")
	}
	return objectstore.ParsePath(name)
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
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			kind = objectstore.NotFound
		case azblob.ServiceCodeAuthenticationFailed, azblob.ServiceCodeInsufficientAccountPermissions:
			kind = objectstore.PermissionDenied
		case azblob.ServiceCodeInvalidRange:
			kind = objectstore.InvalidRange
		case azblob.ServiceCodeServerBusy, azblob.ServiceCodeInternalError, azblob.ServiceCodeOperationTimedOut:
			kind = objectstore.Transient
		}
		if kind == objectstore.Generic && storageErr.Response() != nil {
			switch sc := storageErr.Response().StatusCode; {
			case sc == http.StatusNotFound:
				kind = objectstore.NotFound
			case sc == http.StatusForbidden:
				kind = objectstore.PermissionDenied
			case sc == http.StatusRequestedRangeNotSatisfiable:
				kind = objectstore.InvalidRange
			case sc == http.StatusTooManyRequests || sc >= 500:
				kind = objectstore.Transient
			}
		}
	}
	if kind == objectstore.Generic && errors.Is(err, context.DeadlineExceeded) {
		kind = objectstore.Transient
	}

	return &objectstore.Error{Kind: kind, Store: driverName, Path: path.String(), Detail: err}
}

func (d *driver) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	blobURL := d.client.NewBlockBlobURL(d.blobName(path))
	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := blobURL.Upload(ctx, bytes.NewReader(content),
			azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
			nil, azblob.BlobAccessConditions{})
		if err != nil {
			return parseError(path, err)
		}
		meta = objectstore.ObjectMeta{
			Path:         path,
			Size:         int64(len(content)),
			LastModified: resp.LastModified(),
			ETag:         string(resp.ETag()),
		}
		return nil
	})
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	return meta, nil
}

func blockID(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%011d", n)))
}

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

	first := make([]byte, d.chunkSize)
	n, rerr := io.ReadFull(r, first)
	if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
		return d.Put(ctx, path, first[:n])
	}
	if rerr != nil {
		return objectstore.ObjectMeta{}, &objectstore.Error{
			Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: rerr,
		}
	}

	blobURL := d.client.NewBlockBlobURL(d.blobName(path))

	var (
		blockIDs []string
		size     int64
	)
	stage := func(chunk []byte) error {
		id := blockID(len(blockIDs))
		err := d.do(ctx, func(ctx context.Context) error {
			_, err := blobURL.StageBlock(ctx, id, bytes.NewReader(chunk), azblob.LeaseAccessConditions{}, nil)
			return parseError(path, err)
		})
		if err != nil {
			return err
		}
		blockIDs = append(blockIDs, id)
		size += int64(len(chunk))
		return nil
	}

	if err := stage(first); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	buf := make([]byte, d.chunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if err := stage(buf[:n]); err != nil {
				return objectstore.ObjectMeta{}, err
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return objectstore.ObjectMeta{}, &objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: rerr,
			}
		}
	}

	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := blobURL.CommitBlockList(ctx, blockIDs,
			azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
			nil, azblob.BlobAccessConditions{})
		if err != nil {
			return parseError(path, err)
		}
		meta = objectstore.ObjectMeta{
			Path:         path,
			Size:         size,
			LastModified: resp.LastModified(),
			ETag:         string(resp.ETag()),
		}
		return nil
	})
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	return meta, nil
}

func (d *driver) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	return d.download(ctx, path, 0, azblob.CountToEnd)
}

func (d *driver) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	return d.download(ctx, path, rng.Start, rng.End-rng.Start)
}

func (d *driver) download(ctx context.Context, path objectstore.Path, offset, count int64) (*objectstore.GetResult, error) {
	blobURL := d.client.NewBlobURL(d.blobName(path))
	var result *objectstore.GetResult
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := blobURL.Download(ctx, offset, count, azblob.BlobAccessConditions{}, false)
		if err != nil {
			return parseError(path, err)
		}
		result = &objectstore.GetResult{
			Meta: objectstore.ObjectMeta{
				Path:         path,
				Size:         resp.ContentLength(),
				LastModified: resp.LastModified(),
				ETag:         string(resp.ETag()),
			},
			Body: resp.Body(azblob.RetryReaderOptions{}),
		}
		return nil
	})
	return result, err
}

func (d *driver) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	blobURL := d.client.NewBlobURL(d.blobName(path))
	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		properties, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{})
		if err != nil {
			return parseError(path, err)
		}
		meta = objectstore.ObjectMeta{
			Path:         path,
			Size:         properties.ContentLength(),
			LastModified: properties.LastModified(),
			ETag:         string(properties.ETag()),
		}
		return nil
	})
	return meta, err
}

// Delete is idempotent: an already-absent blob is a success.
func (d *driver) Delete(ctx context.Context, path objectstore.Path) error {
	blobURL := d.client.NewBlobURL(d.blobName(path))
	return d.do(ctx, func(ctx context.Context) error {
		_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
		if err != nil {
			mapped := parseError(path, err)
			if objectstore.IsNotFound(mapped) {
				return nil
			}
			return mapped
		}
		return nil
	})
}

func (d *driver) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	namePrefix := d.blobName(prefix)
	if prefix.IsRoot() {
		namePrefix = d.rootDirectory
	}

	return objectstore.NewListIterator(ctx, func(ctx context.Context, token string) ([]objectstore.ObjectMeta, string, error) {
		marker := azblob.Marker{}
		if token != "" {
			marker = azblob.Marker{Val: &token}
		}

		var metas []objectstore.ObjectMeta
		var next string
		err := d.do(ctx, func(ctx context.Context) error {
			resp, err := d.client.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
				Prefix:     namePrefix,
				MaxResults: listMax,
			})
			if err != nil {
				return parseError(prefix, err)
			}
			metas = metas[:0]
			for _, b := range resp.Segment.BlobItems {
				if !objectstore.UnderPrefix(b.Name, namePrefix) {
					continue
				}
				p, perr := d.nameToPath(b.Name)
				if perr != nil {
					continue
				}
				var size int64
				if b.Properties.ContentLength != nil {
					size = *b.Properties.ContentLength
				}
				metas = append(metas, objectstore.ObjectMeta{
					Path:         p,
					Size:         size,
					LastModified: b.Properties.LastModified,
					ETag:         string(b.Properties.Etag),
				})
			}
			next = ""
			if resp.NextMarker.NotDone() {
				next = *resp.NextMarker.Val
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		return metas, next, nil
	})
}

func (d *driver) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	namePrefix := d.blobName(prefix)
	if prefix.IsRoot() {
		namePrefix = d.rootDirectory
	}
	if namePrefix != "" {
		namePrefix += "/"
	}

	result := &objectstore.ListResult{}
	marker := azblob.Marker{}
	for {
		var resp *azblob.ListBlobsHierarchySegmentResponse
		err := d.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = d.client.ListBlobsHierarchySegment(ctx, marker, "/", azblob.ListBlobsSegmentOptions{
				Prefix:     namePrefix,
				MaxResults: listMax,
			})
			return parseError(prefix, err)
		})
		if err != nil {
			return nil, err
		}

		for _, b := range resp.Segment.BlobItems {
			p, perr := d.nameToPath(b.Name)
			if perr != nil {
				continue
			}
			var size int64
			if b.Properties.ContentLength != nil {
				size = *b.Properties.ContentLength
			}
			result.Objects = append(result.Objects, objectstore.ObjectMeta{
				Path:         p,
				Size:         size,
				LastModified: b.Properties.LastModified,
				ETag:         string(b.Properties.Etag),
			})
		}
		for _, bp := range resp.Segment.BlobPrefixes {
			p, perr := d.nameToPath(strings.TrimSuffix(bp.Name, "/"))
			if perr != nil {
				continue
			}
			result.CommonPrefixes = append(result.CommonPrefixes, p)
		}

		if !resp.NextMarker.NotDone() {
			break
		}
		marker = resp.NextMarker
	}
	return result, nil
}

// Copy duplicates bytes and metadata server-side. Azure copies are
// asynchronous, so the call polls until the copy leaves the pending state.
func (d *driver) Copy(ctx context.Context, src, dst objectstore.Path) error {
	srcURL := d.client.NewBlobURL(d.blobName(src))
	dstURL := d.client.NewBlobURL(d.blobName(dst))

	resp, err := dstURL.StartCopyFromURL(ctx, srcURL.URL(), nil, azblob.ModifiedAccessConditions{}, azblob.BlobAccessConditions{})
	if err != nil {
		return parseError(src, err)
	}
	return d.waitForCopy(ctx, dst, dstURL, resp.CopyID())
}

func (d *driver) waitForCopy(ctx context.Context, path objectstore.Path, blobURL azblob.BlobURL, copyID string) error {
	for {
		properties, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{})
		if err != nil {
			return parseError(path, err)
		}
		if properties.CopyID() != copyID {
			return &objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(),
				Detail: errors.New("blob copy id mismatch"),
			}
		}

		switch status := properties.CopyStatus(); status {
		case azblob.CopyStatusSuccess:
			return nil
		case azblob.CopyStatusPending:
			select {
			case <-ctx.Done():
				return &objectstore.Error{
					Kind: objectstore.Transient, Store: driverName, Path: path.String(), Detail: ctx.Err(),
				}
			case <-time.After(copyPollInterval):
			}
		default:
			return &objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(),
				Detail: fmt.Errorf("blob copy %s: status %q: %s", copyID, status, properties.CopyStatusDescription()),
			}
		}
	}
}

// Rename is Copy followed by Delete; Azure has no native move, so the pair
// is not atomic.
func (d *driver) Rename(ctx context.Context, src, dst objectstore.Path) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// SignedURL implements objectstore.URLSigner with a Shared Access
// Signature granting read access.
func (d *Driver) SignedURL(path objectstore.Path, expires time.Duration) (string, error) {
	d2 := d.Base.Store.(*driver)
	name := d2.blobName(path)
	blobURL := d2.client.NewBlobURL(name)
	sasQuery, err := azblob.BlobSASSignatureValues{
		Protocol:      azblob.SASProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(expires),
		ContainerName: d2.container,
		BlobName:      name,
		Permissions:   azblob.BlobSASPermissions{Read: true}.String(),
	}.NewSASQueryParameters(d2.credential)
	if err != nil {
		return "", parseError(path, err)
	}
	return blobURL.String() + "?" + sasQuery.Encode(), nil
}
