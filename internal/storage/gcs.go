package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// GCSAPI defines the subset of the GCS client interface that the GCS backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given object. Cancelling ctx
	// abandons the upload.
	NewWriter(ctx context.Context, bucket, object, contentType string, chunkSize int) io.WriteCloser
	// NewRangeReader reads length bytes from offset. length < 0 reads to the end.
	NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (*GCSReader, error)
	// Attrs returns the attributes of the given object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
	// Delete deletes the given object.
	Delete(ctx context.Context, bucket, object string) error
	// BucketAttrs checks that the bucket is reachable.
	BucketAttrs(ctx context.Context, bucket string) error
	// SignedURL signs a V4 URL for the given object.
	SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

// GCSAttrs holds object attributes returned from GCS operations.
type GCSAttrs struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// GCSReader is an open GCS object body. Size is the full object size and
// Remain the number of bytes Body will yield.
type GCSReader struct {
	Body        io.ReadCloser
	Size        int64
	Remain      int64
	ContentType string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object, contentType string, chunkSize int) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if chunkSize > 0 {
		w.ChunkSize = chunkSize
	}
	return w
}

func (c *realGCSClient) NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (*GCSReader, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	return &GCSReader{
		Body:        r,
		Size:        r.Attrs.Size,
		Remain:      r.Remain(),
		ContentType: r.Attrs.ContentType,
	}, nil
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSAttrs{
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
	}, nil
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) BucketAttrs(ctx context.Context, bucket string) error {
	_, err := c.client.Bucket(bucket).Attrs(ctx)
	return err
}

func (c *realGCSClient) SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	return c.client.Bucket(bucket).SignedURL(object, opts)
}

// GCSOptions configures the GCS client.
type GCSOptions struct {
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string
	// CredentialsFile is a service account JSON key. Empty uses Application
	// Default Credentials. Signing URLs needs a key with a private key.
	CredentialsFile string
	// Anonymous disables authentication. Only useful against emulators.
	Anonymous bool
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// ResponseTimeout bounds the wait for response headers on every call.
	ResponseTimeout time.Duration
	// MaxAttempts is the attempt budget per call. Zero keeps the library's
	// retry policy, which retries until ctx is done.
	MaxAttempts int
}

// GCSBackend stores objects in a Google Cloud Storage bucket. GCS has a
// single endpoint, so presigned uploads and downloads sign against it.
type GCSBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Prefix is prepended to every object name in the upstream bucket.
	Prefix string
	// ChunkSize is the resumable upload chunk size. Upload memory is bounded
	// by one chunk.
	ChunkSize int
	// ReadTimeout cancels a read whose body stalls for this long.
	ReadTimeout time.Duration

	client GCSAPI
}

// NewGCSBackend creates a GCSBackend. The client is built immediately but no
// request is made until first use.
func NewGCSBackend(ctx context.Context, bucket, prefix string, opts GCSOptions) (*GCSBackend, error) {
	if bucket == "" {
		return nil, gwerr.ErrConfiguration.WithMessage("gcs bucket is not configured")
	}
	// A custom HTTP client bypasses the library's auth setup, so the
	// credentials are layered onto the timed transport here.
	authOpts := []option.ClientOption{option.WithScopes(gcs.ScopeFullControl)}
	switch {
	case opts.Anonymous:
		authOpts = append(authOpts, option.WithoutAuthentication())
	case opts.CredentialsFile != "":
		authOpts = append(authOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	rt, err := htransport.NewTransport(ctx, newTimedTransport(opts.ConnectTimeout, opts.ResponseTimeout), authOpts...)
	if err != nil {
		return nil, gwerr.ErrConfiguration.WithMessage("creating GCS transport: %v", err).Wrap(err)
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(&http.Client{Transport: rt})}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, gwerr.ErrConfiguration.WithMessage("creating GCS client: %v", err).Wrap(err)
	}
	if opts.MaxAttempts > 0 {
		client.SetRetry(gcs.WithMaxAttempts(opts.MaxAttempts))
	}

	slog.Info("GCS backend initialized", "bucket", bucket, "prefix", prefix, "endpoint", opts.Endpoint)
	return NewGCSBackendWithClient(bucket, prefix, &realGCSClient{client: client}), nil
}

// NewGCSBackendWithClient creates a GCSBackend with a pre-configured client.
// This is primarily used for testing with mock clients.
func NewGCSBackendWithClient(bucket, prefix string, client GCSAPI) *GCSBackend {
	return &GCSBackend{
		Bucket:    bucket,
		Prefix:    prefix,
		ChunkSize: 8 << 20,
		client:    client,
	}
}

// Name implements ObjectStore.
func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) gcsKey(key string) string {
	return b.Prefix + key
}

// PutObject streams body into a resumable upload. If body fails, the upload
// context is cancelled so GCS never finalizes a partial object.
func (b *GCSBackend) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.client.NewWriter(wctx, b.Bucket, b.gcsKey(key), contentType, b.ChunkSize)
	n, err := io.Copy(w, body)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, classify("put", key, err)
	}
	if err := w.Close(); err != nil {
		return n, classify("put", key, err)
	}
	return n, nil
}

// GetObject reads the object, or the span rng when it is non-nil.
func (b *GCSBackend) GetObject(ctx context.Context, key string, rng *ByteRange) (*ObjectReader, error) {
	offset, length := int64(0), int64(-1)
	if rng != nil {
		offset, length = rng.Start, rng.Length()
	}

	ctx, cancel := context.WithCancel(ctx)
	r, err := b.client.NewRangeReader(ctx, b.Bucket, b.gcsKey(key), offset, length)
	if err != nil {
		cancel()
		switch {
		case isGCSNotFound(err):
			return nil, notFound(key)
		case rng != nil && isGCSInvalidRange(err):
			return nil, gwerr.ErrRangeNotSatisfiable.WithMessage("range %s is outside %s", rng.HeaderValue(), key)
		}
		return nil, classify("get", key, err)
	}

	return &ObjectReader{
		Body:   newIdleTimeoutBody(r.Body, b.ReadTimeout, cancel),
		Length: r.Remain,
		Info: ObjectInfo{
			Key:         key,
			Size:        r.Size,
			ContentType: r.ContentType,
		},
	}, nil
}

// HeadObject returns the object's size and content type.
func (b *GCSBackend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := b.client.Attrs(ctx, b.Bucket, b.gcsKey(key))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, notFound(key)
		}
		return nil, classify("head", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         attrs.ETag,
		LastModified: attrs.LastModified,
	}, nil
}

// DeleteObject removes an object from the upstream GCS bucket.
// Idempotent: catches 404 silently (GCS errors on delete of non-existent
// objects unlike S3).
func (b *GCSBackend) DeleteObject(ctx context.Context, key string) error {
	err := b.client.Delete(ctx, b.Bucket, b.gcsKey(key))
	if err != nil && !isGCSNotFound(err) {
		return classify("delete", key, err)
	}
	return nil
}

// HealthCheck verifies that the bucket is reachable.
func (b *GCSBackend) HealthCheck(ctx context.Context) error {
	if err := b.client.BucketAttrs(ctx, b.Bucket); err != nil {
		return classify("bucket-attrs", b.Bucket, err)
	}
	return nil
}

// PresignPut signs a V4 PUT URL. When size >= 0 the signature also covers
// an x-goog-content-length-range header pinning the exact length.
func (b *GCSBackend) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedRequest, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      http.MethodPut,
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
	}
	header := http.Header{"Content-Type": {contentType}}
	if size >= 0 {
		lengthRange := fmt.Sprintf("%d,%d", size, size)
		opts.Headers = []string{"x-goog-content-length-range:" + lengthRange}
		header.Set("X-Goog-Content-Length-Range", lengthRange)
	}
	u, err := b.client.SignedURL(b.Bucket, b.gcsKey(key), opts)
	if err != nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("signing GCS upload for %s: %v", key, err).Wrap(err)
	}
	return &PresignedRequest{URL: u, Method: http.MethodPut, Header: header}, nil
}

// PresignGet signs a V4 GET URL.
func (b *GCSBackend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedRequest, error) {
	u, err := b.client.SignedURL(b.Bucket, b.gcsKey(key), &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("signing GCS download for %s: %v", key, err).Wrap(err)
	}
	return &PresignedRequest{URL: u, Method: http.MethodGet, Header: http.Header{}}, nil
}

// isGCSNotFound checks if a GCS error means the object is absent. A missing
// bucket is a configuration problem, not an absent object.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

func isGCSInvalidRange(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusRequestedRangeNotSatisfiable
	}
	return false
}

// Ensure GCSBackend implements Backend at compile time.
var _ Backend = (*GCSBackend)(nil)
