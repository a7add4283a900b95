package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// memObject holds the raw data and metadata for an in-memory object.
type memObject struct {
	Data         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
}

// MemoryBackend implements ObjectStore using an in-memory map. It is meant
// for local development and tests; it cannot sign URLs.
type MemoryBackend struct {
	mu           sync.RWMutex
	objects      map[string]memObject
	currentSize  int64
	maxSizeBytes int64
}

// NewMemoryBackend creates a MemoryBackend holding at most maxSizeBytes in
// total. 0 means unlimited.
func NewMemoryBackend(maxSizeBytes int64) *MemoryBackend {
	return &MemoryBackend{
		objects:      make(map[string]memObject),
		maxSizeBytes: maxSizeBytes,
	}
}

// Name implements ObjectStore.
func (b *MemoryBackend) Name() string { return "memory" }

// computeETag returns the quoted MD5 hex digest of data.
func computeETag(data []byte) string {
	h := md5.Sum(data)
	return fmt.Sprintf(`"%x"`, h[:])
}

// PutObject reads all data from the reader and stores it. Nothing is stored
// if the reader fails.
func (b *MemoryBackend) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (int64, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, classify("put", key, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, classify("put", key, err)
	}

	dataLen := int64(len(data))

	b.mu.Lock()
	defer b.mu.Unlock()

	// Account for size change if replacing an existing object.
	delta := dataLen
	if existing, found := b.objects[key]; found {
		delta -= int64(len(existing.Data))
	}
	if b.maxSizeBytes > 0 && b.currentSize+delta > b.maxSizeBytes {
		return 0, gwerr.ErrStorageUnavailable.WithMessage(
			"put %s: memory limit exceeded: current=%d, delta=%d, max=%d", key, b.currentSize, delta, b.maxSizeBytes)
	}

	b.objects[key] = memObject{
		Data:         data,
		ContentType:  contentType,
		ETag:         computeETag(data),
		LastModified: time.Now().UTC(),
	}
	b.currentSize += delta
	return dataLen, nil
}

// GetObject returns a reader over a copy of the stored data, or of the span
// rng when it is non-nil.
func (b *MemoryBackend) GetObject(ctx context.Context, key string, rng *ByteRange) (*ObjectReader, error) {
	b.mu.RLock()
	obj, found := b.objects[key]
	b.mu.RUnlock()
	if !found {
		return nil, notFound(key)
	}

	size := int64(len(obj.Data))
	data := obj.Data
	if rng != nil {
		if rng.Start < 0 || rng.Start >= size || rng.End < rng.Start {
			return nil, gwerr.ErrRangeNotSatisfiable.WithMessage("range %s is outside %s", rng.HeaderValue(), key)
		}
		end := min(rng.End, size-1)
		data = obj.Data[rng.Start : end+1]
	}

	// Return a copy of the data so callers cannot mutate the stored slice.
	dataCopy := bytes.Clone(data)
	return &ObjectReader{
		Body:   io.NopCloser(bytes.NewReader(dataCopy)),
		Length: int64(len(dataCopy)),
		Info:   obj.info(key),
	}, nil
}

// HeadObject returns the stored object's metadata.
func (b *MemoryBackend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	b.mu.RLock()
	obj, found := b.objects[key]
	b.mu.RUnlock()
	if !found {
		return nil, notFound(key)
	}
	info := obj.info(key)
	return &info, nil
}

// DeleteObject removes an object from memory. Idempotent: deleting a
// non-existent object is not an error.
func (b *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, found := b.objects[key]; found {
		b.currentSize -= int64(len(existing.Data))
		delete(b.objects, key)
	}
	return nil
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// PresignPut implements URLSigner. Memory objects are not reachable by URL.
func (b *MemoryBackend) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedRequest, error) {
	return nil, gwerr.ErrPresignUnsupported.WithMessage("the memory backend cannot sign URLs")
}

// PresignGet implements URLSigner. Memory objects are not reachable by URL.
func (b *MemoryBackend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedRequest, error) {
	return nil, gwerr.ErrPresignUnsupported.WithMessage("the memory backend cannot sign URLs")
}

// Size returns the total number of stored bytes.
func (b *MemoryBackend) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentSize
}

func (o memObject) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.Data)),
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
	}
}

// Ensure MemoryBackend implements Backend at compile time.
var _ Backend = (*MemoryBackend)(nil)
