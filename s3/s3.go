// Package s3 provides an objectstore.Store implementation backed by
// Amazon S3 (and S3-compatible endpoints).
//
// This package leverages the official aws client library. Streaming
// uploads above the part size drive the S3 multipart upload protocol:
// CreateMultipartUpload, UploadPart per chunk with a bounded number in
// flight, and CompleteMultipartUpload; any failure aborts the upload so no
// partial object is ever visible.
package s3

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/base"
	"github.com/jeschkies/objectstore/factory"
)

const driverName = "s3"

// minChunkSize is the smallest part S3 accepts in a multipart upload.
const minChunkSize = 5 * 1024 * 1024

// maxChunkSize is the largest part S3 accepts.
const maxChunkSize = 5 * 1024 * 1024 * 1024

const defaultChunkSize = 2 * minChunkSize

const (
	// defaultMultipartCopyChunkSize defines the chunk size for all but
	// the last Upload Part - Copy operation of a multipart copy.
	// Empirically, 32 MB is optimal.
	defaultMultipartCopyChunkSize = 32 * 1024 * 1024

	// defaultMultipartCopyThresholdSize defines the object size above
	// which multipart copy is used instead of PUT Object - Copy.
	defaultMultipartCopyThresholdSize = 32 * 1024 * 1024

	// defaultPartConcurrency bounds how many part uploads of one stream
	// are in flight at once, which also bounds buffered memory to
	// concurrency × chunk size.
	defaultPartConcurrency = 4
)

// listMax is the largest number of objects one S3 list call returns.
const listMax = 1000

func init() {
	factory.Register(driverName, &s3StoreFactory{})
}

type s3StoreFactory struct{}

func (f *s3StoreFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return FromParameters(parameters)
}

// Parameters encapsulate the backend configuration after all values have
// been set.
type Parameters struct {
	AccessKey       string        `mapstructure:"accesskey"`
	SecretKey       string        `mapstructure:"secretkey"`
	SessionToken    string        `mapstructure:"sessiontoken"`
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	RegionEndpoint  string        `mapstructure:"regionendpoint"`
	ForcePathStyle  bool          `mapstructure:"forcepathstyle"`
	Secure          *bool         `mapstructure:"secure"`
	SkipVerify      bool          `mapstructure:"skipverify"`
	RootDirectory   string        `mapstructure:"rootdirectory"`
	ChunkSize       int64         `mapstructure:"chunksize"`
	PartConcurrency int           `mapstructure:"partconcurrency"`
	CopyChunkSize   int64         `mapstructure:"multipartcopychunksize"`
	CopyThreshold   int64         `mapstructure:"multipartcopythresholdsize"`
	RequestTimeout  time.Duration `mapstructure:"requesttimeout"`
	MaxRetries      int           `mapstructure:"maxretries"`
	RetryBackoff    time.Duration `mapstructure:"retrybackoff"`
	RetryCap        time.Duration `mapstructure:"retrycap"`
}

var _ objectstore.Store = &driver{}

type driver struct {
	S3              *s3.S3
	Bucket          string
	RootDirectory   string
	ChunkSize       int64
	PartConcurrency int
	CopyChunkSize   int64
	CopyThreshold   int64
	RequestTimeout  time.Duration

	retry objectstore.RetryConfig
}

type baseEmbed struct {
	base.Base
}

// Driver is an objectstore.Store implementation backed by Amazon S3.
// Objects are stored at absolute keys in the provided bucket.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from a parameters map.
// Required parameters:
// - bucket
// - region (unless regionendpoint is given)
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := Parameters{
		ChunkSize:       defaultChunkSize,
		PartConcurrency: defaultPartConcurrency,
		CopyChunkSize:   defaultMultipartCopyChunkSize,
		CopyThreshold:   defaultMultipartCopyThresholdSize,
	}
	if err := objectstore.DecodeParameters(driverName, parameters, &params); err != nil {
		return nil, err
	}
	return New(params)
}

func invalidConfig(format string, args ...interface{}) error {
	return &objectstore.Error{Kind: objectstore.InvalidConfig, Store: driverName, Detail: fmt.Errorf(format, args...)}
}

// New constructs a new Driver against the configured bucket.
func New(params Parameters) (*Driver, error) {
	if params.Bucket == "" {
		return nil, invalidConfig("no bucket parameter provided")
	}
	if params.Region == "" && params.RegionEndpoint == "" {
		return nil, invalidConfig("no region parameter provided")
	}
	if params.ChunkSize < minChunkSize || params.ChunkSize > maxChunkSize {
		return nil, invalidConfig("chunksize %d outside [%d, %d]", params.ChunkSize, minChunkSize, maxChunkSize)
	}
	if params.PartConcurrency < 1 {
		return nil, invalidConfig("partconcurrency must be at least 1, got %d", params.PartConcurrency)
	}
	if params.CopyChunkSize < minChunkSize || params.CopyChunkSize > maxChunkSize {
		return nil, invalidConfig("multipartcopychunksize %d outside [%d, %d]", params.CopyChunkSize, minChunkSize, maxChunkSize)
	}

	// The library retry layer governs retries, so the SDK's own are
	// disabled.
	awsConfig := aws.NewConfig().WithMaxRetries(0)
	if params.AccessKey != "" && params.SecretKey != "" {
		awsConfig.WithCredentials(credentials.NewStaticCredentials(
			params.AccessKey,
			params.SecretKey,
			params.SessionToken,
		))
	}
	if params.RegionEndpoint != "" {
		awsConfig.WithEndpoint(params.RegionEndpoint)
	}
	if params.Region != "" {
		awsConfig.WithRegion(params.Region)
	}
	awsConfig.WithS3ForcePathStyle(params.ForcePathStyle)
	if params.Secure != nil {
		awsConfig.WithDisableSSL(!*params.Secure)
	}
	if params.SkipVerify {
		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		awsConfig.WithHTTPClient(&http.Client{Transport: httpTransport})
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, invalidConfig("failed to create aws session: %v", err)
	}

	d := &driver{
		S3:              s3.New(sess),
		Bucket:          params.Bucket,
		RootDirectory:   strings.Trim(params.RootDirectory, "/"),
		ChunkSize:       params.ChunkSize,
		PartConcurrency: params.PartConcurrency,
		CopyChunkSize:   params.CopyChunkSize,
		CopyThreshold:   params.CopyThreshold,
		RequestTimeout:  params.RequestTimeout,
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

// s3Key returns the bucket key for a path, below the root directory.
func (d *driver) s3Key(path objectstore.Path) string {
	if d.RootDirectory == "" {
		return path.String()
	}
	return d.RootDirectory + "/" + path.String()
}

// keyToPath strips the root directory off a bucket key.
func (d *driver) keyToPath(key string) (objectstore.Path, error) {
	if d.RootDirectory != "" {
		key = strings.TrimPrefix(key, d.RootDirectory+"/")
	}
	return objectstore.ParsePath(key)
}

// do wraps one backend call with the per-request timeout and the retry
// layer. op must return errors already mapped through parseError.
func (d *driver) do(ctx context.Context, op func(ctx context.Context) error) error {
	return objectstore.DoRetry(ctx, d.retry, func() error {
		callCtx := ctx
		if d.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.RequestTimeout)
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
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			kind = objectstore.NotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			kind = objectstore.PermissionDenied
		case "InvalidRange":
			kind = objectstore.InvalidRange
		case "RequestTimeout", "SlowDown", "Throttling", "ThrottlingException",
			"ServiceUnavailable", "InternalError", "RequestError":
			kind = objectstore.Transient
		}
	}
	if kind == objectstore.Generic {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) {
			switch {
			case reqErr.StatusCode() == http.StatusNotFound:
				kind = objectstore.NotFound
			case reqErr.StatusCode() == http.StatusForbidden:
				kind = objectstore.PermissionDenied
			case reqErr.StatusCode() == http.StatusRequestedRangeNotSatisfiable:
				kind = objectstore.InvalidRange
			case reqErr.StatusCode() == http.StatusTooManyRequests || reqErr.StatusCode() >= 500:
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
	var etag string
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := d.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(d.Bucket),
			Key:         aws.String(d.s3Key(path)),
			ContentType: aws.String("application/octet-stream"),
			Body:        bytes.NewReader(content),
		})
		if err != nil {
			return parseError(path, err)
		}
		etag = aws.StringValue(resp.ETag)
		return nil
	})
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	return objectstore.ObjectMeta{
		Path:         path,
		Size:         int64(len(content)),
		LastModified: time.Now().UTC(),
		ETag:         etag,
	}, nil
}

func (d *driver) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	// A payload known (or discovered) to fit in one part is a plain
	// atomic Put; this also covers the empty source, which the multipart
	// protocol cannot complete.
	if sizeHint >= 0 && sizeHint <= d.ChunkSize {
		content, err := io.ReadAll(r)
		if err != nil {
			return objectstore.ObjectMeta{}, &objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: err,
			}
		}
		return d.Put(ctx, path, content)
	}

	first := make([]byte, d.ChunkSize)
	n, rerr := io.ReadFull(r, first)
	if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
		return d.Put(ctx, path, first[:n])
	}
	if rerr != nil {
		return objectstore.ObjectMeta{}, &objectstore.Error{
			Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: rerr,
		}
	}

	return d.putMultipart(ctx, path, first, r)
}

// putMultipart drives Initiated → PartsUploading → Completed, with Abort
// on any failure. firstChunk is a full part already read from r.
func (d *driver) putMultipart(ctx context.Context, path objectstore.Path, firstChunk []byte, r io.Reader) (objectstore.ObjectMeta, error) {
	key := d.s3Key(path)

	var uploadID string
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := d.S3.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(d.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			return parseError(path, err)
		}
		uploadID = aws.StringValue(resp.UploadId)
		return nil
	})
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		parts     completedParts
		size      int64
		uploadErr error
	)
	limiter := make(chan struct{}, d.PartConcurrency)

	setErr := func(err error) {
		mu.Lock()
		if uploadErr == nil {
			uploadErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return uploadErr != nil
	}

	uploadPart := func(num int64, body []byte) {
		defer wg.Done()
		defer func() { <-limiter }()
		var etag *string
		err := d.do(ctx, func(ctx context.Context) error {
			resp, err := d.S3.UploadPartWithContext(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(d.Bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int64(num),
				Body:       bytes.NewReader(body),
			})
			if err != nil {
				return parseError(path, err)
			}
			etag = resp.ETag
			return nil
		})
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		parts = append(parts, &s3.CompletedPart{ETag: etag, PartNumber: aws.Int64(num)})
		size += int64(len(body))
		mu.Unlock()
	}

	partNumber := int64(1)
	wg.Add(1)
	limiter <- struct{}{}
	go uploadPart(partNumber, firstChunk)

	for !failed() {
		buf := make([]byte, d.ChunkSize)
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			partNumber++
			wg.Add(1)
			limiter <- struct{}{}
			go uploadPart(partNumber, buf[:n])
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			setErr(&objectstore.Error{
				Kind: objectstore.Generic, Store: driverName, Path: path.String(), Detail: rerr,
			})
			break
		}
	}
	wg.Wait()

	if uploadErr != nil {
		d.abortUpload(ctx, path, key, uploadID)
		return objectstore.ObjectMeta{}, uploadErr
	}

	sort.Sort(parts)
	var etag string
	err = d.do(ctx, func(ctx context.Context) error {
		resp, err := d.S3.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(d.Bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			return parseError(path, err)
		}
		etag = aws.StringValue(resp.ETag)
		return nil
	})
	if err != nil {
		d.abortUpload(ctx, path, key, uploadID)
		return objectstore.ObjectMeta{}, err
	}

	return objectstore.ObjectMeta{
		Path:         path,
		Size:         size,
		LastModified: time.Now().UTC(),
		ETag:         etag,
	}, nil
}

// abortUpload is best effort: a failure here is logged and never masks the
// error that triggered the abort. The background context keeps cleanup
// possible after caller cancellation, which is itself a common trigger.
func (d *driver) abortUpload(ctx context.Context, path objectstore.Path, key, uploadID string) {
	abortCtx := context.Background()
	if d.RequestTimeout > 0 {
		var cancel context.CancelFunc
		abortCtx, cancel = context.WithTimeout(abortCtx, d.RequestTimeout)
		defer cancel()
	}
	_, err := d.S3.AbortMultipartUploadWithContext(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"store": driverName,
			"path":  path.String(),
		}).WithError(err).Warn("failed to abort multipart upload")
	}
}

type completedParts []*s3.CompletedPart

func (a completedParts) Len() int           { return len(a) }
func (a completedParts) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a completedParts) Less(i, j int) bool { return *a[i].PartNumber < *a[j].PartNumber }

func (d *driver) getObject(ctx context.Context, path objectstore.Path, rangeHeader string) (*objectstore.GetResult, error) {
	var result *objectstore.GetResult
	err := d.do(ctx, func(ctx context.Context) error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.s3Key(path)),
		}
		if rangeHeader != "" {
			input.Range = aws.String(rangeHeader)
		}
		resp, err := d.S3.GetObjectWithContext(ctx, input)
		if err != nil {
			return parseError(path, err)
		}
		result = &objectstore.GetResult{
			Meta: objectstore.ObjectMeta{
				Path:         path,
				Size:         aws.Int64Value(resp.ContentLength),
				LastModified: aws.TimeValue(resp.LastModified),
				ETag:         aws.StringValue(resp.ETag),
			},
			Body: resp.Body,
		}
		return nil
	})
	return result, err
}

func (d *driver) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	return d.getObject(ctx, path, "")
}

func (d *driver) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	// S3 ranges are closed intervals.
	return d.getObject(ctx, path, fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1))
}

func (d *driver) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	var meta objectstore.ObjectMeta
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := d.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.s3Key(path)),
		})
		if err != nil {
			return parseError(path, err)
		}
		meta = objectstore.ObjectMeta{
			Path:         path,
			Size:         aws.Int64Value(resp.ContentLength),
			LastModified: aws.TimeValue(resp.LastModified),
			ETag:         aws.StringValue(resp.ETag),
		}
		return nil
	})
	return meta, err
}

// Delete is idempotent: S3 returns success for an absent key.
func (d *driver) Delete(ctx context.Context, path objectstore.Path) error {
	return d.do(ctx, func(ctx context.Context) error {
		_, err := d.S3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.s3Key(path)),
		})
		return parseError(path, err)
	})
}

func (d *driver) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	keyPrefix := d.s3Key(prefix)
	if prefix.IsRoot() {
		keyPrefix = d.RootDirectory
	}

	return objectstore.NewListIterator(ctx, func(ctx context.Context, token string) ([]objectstore.ObjectMeta, string, error) {
		input := &s3.ListObjectsV2Input{
			Bucket:  aws.String(d.Bucket),
			Prefix:  aws.String(keyPrefix),
			MaxKeys: aws.Int64(listMax),
		}
		if token != "" {
			input.ContinuationToken = aws.String(token)
		}

		var metas []objectstore.ObjectMeta
		var next string
		err := d.do(ctx, func(ctx context.Context) error {
			resp, err := d.S3.ListObjectsV2WithContext(ctx, input)
			if err != nil {
				return parseError(prefix, err)
			}
			metas = metas[:0]
			for _, obj := range resp.Contents {
				key := aws.StringValue(obj.Key)
				if !objectstore.UnderPrefix(key, keyPrefix) {
					continue
				}
				p, perr := d.keyToPath(key)
				if perr != nil {
					continue
				}
				metas = append(metas, objectstore.ObjectMeta{
					Path:         p,
					Size:         aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
					ETag:         aws.StringValue(obj.ETag),
				})
			}
			next = ""
			if aws.BoolValue(resp.IsTruncated) {
				next = aws.StringValue(resp.NextContinuationToken)
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
	keyPrefix := d.s3Key(prefix)
	if prefix.IsRoot() {
		keyPrefix = d.RootDirectory
	}
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	result := &objectstore.ListResult{}
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.Bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int64(listMax),
	}

	for {
		var resp *s3.ListObjectsV2Output
		err := d.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = d.S3.ListObjectsV2WithContext(ctx, input)
			return parseError(prefix, err)
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range resp.Contents {
			p, perr := d.keyToPath(aws.StringValue(obj.Key))
			if perr != nil {
				continue
			}
			result.Objects = append(result.Objects, objectstore.ObjectMeta{
				Path:         p,
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
				ETag:         aws.StringValue(obj.ETag),
			})
		}
		for _, cp := range resp.CommonPrefixes {
			p, perr := d.keyToPath(strings.TrimSuffix(aws.StringValue(cp.Prefix), "/"))
			if perr != nil {
				continue
			}
			result.CommonPrefixes = append(result.CommonPrefixes, p)
		}

		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return result, nil
}

// Copy duplicates bytes and metadata server-side. S3 copies objects up to
// 5 GB with a single PUT Object - Copy; above the configured threshold the
// multipart copy API is faster and required.
func (d *driver) Copy(ctx context.Context, src, dst objectstore.Path) error {
	meta, err := d.Head(ctx, src)
	if err != nil {
		return err
	}

	if meta.Size <= d.CopyThreshold {
		return d.do(ctx, func(ctx context.Context) error {
			_, err := d.S3.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(d.Bucket),
				Key:        aws.String(d.s3Key(dst)),
				CopySource: aws.String(d.Bucket + "/" + d.s3Key(src)),
			})
			return parseError(src, err)
		})
	}
	return d.copyMultipart(ctx, src, dst, meta.Size)
}

func (d *driver) copyMultipart(ctx context.Context, src, dst objectstore.Path, size int64) error {
	var uploadID string
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := d.S3.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.s3Key(dst)),
		})
		if err != nil {
			return parseError(dst, err)
		}
		uploadID = aws.StringValue(resp.UploadId)
		return nil
	})
	if err != nil {
		return err
	}

	numParts := (size + d.CopyChunkSize - 1) / d.CopyChunkSize
	parts := make([]*s3.CompletedPart, numParts)
	errChan := make(chan error, numParts)
	limiter := make(chan struct{}, d.PartConcurrency)

	for i := range parts {
		i := int64(i)
		go func() {
			limiter <- struct{}{}
			defer func() { <-limiter }()

			firstByte := i * d.CopyChunkSize
			lastByte := firstByte + d.CopyChunkSize - 1
			if lastByte >= size {
				lastByte = size - 1
			}
			errChan <- d.do(ctx, func(ctx context.Context) error {
				resp, err := d.S3.UploadPartCopyWithContext(ctx, &s3.UploadPartCopyInput{
					Bucket:          aws.String(d.Bucket),
					Key:             aws.String(d.s3Key(dst)),
					CopySource:      aws.String(d.Bucket + "/" + d.s3Key(src)),
					CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", firstByte, lastByte)),
					PartNumber:      aws.Int64(i + 1),
					UploadId:        aws.String(uploadID),
				})
				if err != nil {
					return parseError(src, err)
				}
				parts[i] = &s3.CompletedPart{
					ETag:       resp.CopyPartResult.ETag,
					PartNumber: aws.Int64(i + 1),
				}
				return nil
			})
		}()
	}

	var copyErr error
	for range parts {
		if err := <-errChan; err != nil && copyErr == nil {
			copyErr = err
		}
	}
	if copyErr != nil {
		d.abortUpload(ctx, dst, d.s3Key(dst), uploadID)
		return copyErr
	}

	err = d.do(ctx, func(ctx context.Context) error {
		_, err := d.S3.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(d.Bucket),
			Key:             aws.String(d.s3Key(dst)),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
		})
		return parseError(dst, err)
	})
	if err != nil {
		d.abortUpload(ctx, dst, d.s3Key(dst), uploadID)
	}
	return err
}

// Rename is Copy followed by Delete; S3 has no native move, so the pair is
// not atomic.
func (d *driver) Rename(ctx context.Context, src, dst objectstore.Path) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// SignedURL implements objectstore.URLSigner with an S3 presigned GET.
func (d *Driver) SignedURL(path objectstore.Path, expires time.Duration) (string, error) {
	d2 := d.Base.Store.(*driver)
	req, _ := d2.S3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(d2.Bucket),
		Key:    aws.String(d2.s3Key(path)),
	})
	url, err := req.Presign(expires)
	if err != nil {
		return "", parseError(path, err)
	}
	return url, nil
}
