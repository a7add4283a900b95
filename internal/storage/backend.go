// Package storage defines the interface and implementations for MediaShelf's
// object store access: the backend clients, and the S3, GCS and Azure
// backends the storage gateway streams through.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// ObjectInfo is the metadata the backend holds for a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// ByteRange is an inclusive span of bytes within an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// HeaderValue formats the range as an HTTP Range header value.
func (r ByteRange) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ObjectReader is an open object body. Length is the number of bytes the
// backend reported for Body, which equals Info.Size for a full read.
type ObjectReader struct {
	Body   io.ReadCloser
	Info   ObjectInfo
	Length int64
}

// PresignedRequest is a time-limited request a client can send directly to
// the backend.
type PresignedRequest struct {
	URL    string
	Method string
	Header http.Header
}

// ObjectStore reads and writes raw object data. Implementations must be safe
// for concurrent use. Errors are *gwerr.GatewayError values: NotFound for
// absent keys, StorageError for everything the backend failed to do.
type ObjectStore interface {
	// Name identifies the backend in logs and metrics (e.g., "s3").
	Name() string

	// PutObject streams body to key. size is the exact length, or -1 when
	// unknown. It returns the number of bytes the backend acknowledged.
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error)

	// GetObject opens key for reading. A nil rng reads the whole object.
	// The caller must close the returned body.
	GetObject(ctx context.Context, key string, rng *ByteRange) (*ObjectReader, error)

	// HeadObject returns size and content type without reading the body.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

	// DeleteObject removes key. Deleting an absent key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck verifies that the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// URLSigner mints presigned URLs for direct client access to the backend.
type URLSigner interface {
	// PresignPut signs an upload of key. The signature covers contentType,
	// and size when size >= 0.
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedRequest, error)

	// PresignGet signs a download of key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedRequest, error)
}

// Backend is an object store that can also sign URLs.
type Backend interface {
	ObjectStore
	URLSigner
}

// classify maps a backend error that is not a not-found to a StorageError,
// distinguishing timeouts from other failures.
func classify(op, key string, err error) error {
	if _, ok := gwerr.As(err); ok {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return gwerr.ErrStorageTimeout.WithMessage("%s %s: backend did not respond in time", op, key).Wrap(err)
	}
	return gwerr.ErrStorageUnavailable.WithMessage("%s %s failed", op, key).Wrap(err)
}

// newTimedTransport returns a transport that gives up on a dial after
// connectTimeout and on a response after headerTimeout. Zero leaves a bound
// unset. Body reads are not covered; backends bound those with ReadTimeout.
func newTimedTransport(connectTimeout, headerTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	d := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	t.DialContext = d.DialContext
	t.ResponseHeaderTimeout = headerTimeout
	return t
}

func notFound(key string) error {
	return gwerr.ErrNoSuchKey.WithMessage("The specified key does not exist: %s", key)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
