// Package gateway implements the MediaShelf storage gateway: validated
// uploads, range streaming, presigned delegation and cleanup on top of a
// storage backend. A Gateway holds no per-request state and is safe for
// concurrent use.
package gateway

import (
	"context"
	"log/slog"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
	"github.com/mediashelf/mediashelf/internal/media"
	"github.com/mediashelf/mediashelf/internal/metrics"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// Options configures a Gateway.
type Options struct {
	// MaxSizes is the upload limit in bytes for each category. Every
	// category must have a positive limit.
	MaxSizes map[media.Category]int64
	// PresignDefaultTTL is used when a caller asks for a TTL <= 0.
	PresignDefaultTTL time.Duration
	// PresignMaxTTL caps every presigned URL lifetime.
	PresignMaxTTL time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Gateway mediates all traffic between callers and the object store.
type Gateway struct {
	store    storage.ObjectStore
	signer   storage.URLSigner
	maxSizes map[media.Category]int64

	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

// New validates opts and returns a Gateway over store. signer may be nil, in
// which case presigning fails with PresignUnsupported.
func New(store storage.ObjectStore, signer storage.URLSigner, opts Options) (*Gateway, error) {
	if store == nil {
		return nil, gwerr.ErrConfiguration.WithMessage("no storage backend configured")
	}

	sizes := make(map[media.Category]int64, len(opts.MaxSizes))
	for _, c := range media.Categories() {
		limit, ok := opts.MaxSizes[c]
		if !ok || limit <= 0 {
			return nil, gwerr.ErrConfiguration.WithMessage("no maximum upload size configured for category %q", c)
		}
		sizes[c] = limit
	}

	if opts.PresignMaxTTL <= 0 {
		return nil, gwerr.ErrConfiguration.WithMessage("presign TTL ceiling must be positive")
	}
	defaultTTL := opts.PresignDefaultTTL
	if defaultTTL <= 0 || defaultTTL > opts.PresignMaxTTL {
		defaultTTL = opts.PresignMaxTTL
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Gateway{
		store:      store,
		signer:     signer,
		maxSizes:   sizes,
		defaultTTL: defaultTTL,
		maxTTL:     opts.PresignMaxTTL,
		now:        now,
	}, nil
}

// Backend returns the name of the storage backend.
func (g *Gateway) Backend() string { return g.store.Name() }

// MaxSize returns the upload limit for category.
func (g *Gateway) MaxSize(category media.Category) int64 { return g.maxSizes[category] }

// GenerateKey returns a fresh storage key for an upload.
func (g *Gateway) GenerateKey(category media.Category, ownerID, originalFilename string) (media.Key, error) {
	return media.GenerateKey(category, ownerID, originalFilename)
}

// HealthCheck reports whether the backend is reachable.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := g.store.HealthCheck(ctx)
	g.observe(ctx, "health", "", start, err)
	return err
}

// observe records a backend call in metrics and logs storage failures with
// enough context to diagnose them without replaying the request.
func (g *Gateway) observe(ctx context.Context, op, key string, start time.Time, err error) {
	backend := g.store.Name()
	status := "success"
	switch {
	case err == nil:
	case gwerr.IsNotFound(err):
		status = "not_found"
	case gwerr.ClassOf(err) == gwerr.ClassRangeNotSatisfiable:
		status = "unsatisfiable"
	case gwerr.IsValidation(err):
		status = "rejected"
	default:
		status = "error"
		logging.FromContext(ctx).Error("Storage operation failed",
			"op", op,
			"key", key,
			"backend", backend,
			"error", err,
		)
	}
	metrics.StorageOperationsTotal.WithLabelValues(op, backend, status).Inc()
	metrics.StorageOperationDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

// parseKey validates a stored key before any backend call.
func parseKey(ctx context.Context, key string) (media.Key, error) {
	k, err := media.ParseKey(key)
	if err != nil {
		logging.FromContext(ctx).Debug("Rejected storage key", slog.String("key", key))
		return media.Key{}, err
	}
	return k, nil
}
