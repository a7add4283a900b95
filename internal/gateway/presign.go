package gateway

import (
	"context"
	"net/http"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/metrics"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// PresignedURL is a time-limited URL a client uses to talk to the backend
// directly. Headers lists what the client must send with the request.
type PresignedURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ClampTTL returns the lifetime a presigned URL requested with ttl gets:
// the default for ttl <= 0, the ceiling for anything longer.
func (g *Gateway) ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return g.defaultTTL
	case ttl > g.maxTTL:
		return g.maxTTL
	default:
		return ttl
	}
}

// PresignUpload signs a browser upload of key against the public endpoint.
// The same allowlist and size limit as PutObject apply; declaredSize is -1
// when the caller does not know it yet.
func (g *Gateway) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration, declaredSize int64) (*PresignedURL, error) {
	k, err := parseKey(ctx, key)
	if err != nil {
		return nil, err
	}
	ct, err := g.checkUpload(k, contentType, declaredSize)
	if err != nil {
		return nil, err
	}
	if g.signer == nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("the %s backend cannot sign URLs", g.store.Name())
	}

	ttl = g.ClampTTL(ttl)
	expires := g.now().Add(ttl)
	start := time.Now()
	req, err := g.signer.PresignPut(ctx, key, ct, declaredSize, ttl)
	g.observe(ctx, "presign-put", key, start, err)
	if err != nil {
		return nil, err
	}
	metrics.PresignedURLsTotal.WithLabelValues("upload").Inc()
	return toPresignedURL(req, expires), nil
}

// PresignDownload signs a read of key against the internal endpoint.
func (g *Gateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error) {
	if _, err := parseKey(ctx, key); err != nil {
		return nil, err
	}
	if g.signer == nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("the %s backend cannot sign URLs", g.store.Name())
	}

	ttl = g.ClampTTL(ttl)
	expires := g.now().Add(ttl)
	start := time.Now()
	req, err := g.signer.PresignGet(ctx, key, ttl)
	g.observe(ctx, "presign-get", key, start, err)
	if err != nil {
		return nil, err
	}
	metrics.PresignedURLsTotal.WithLabelValues("download").Inc()
	return toPresignedURL(req, expires), nil
}

func toPresignedURL(req *storage.PresignedRequest, expires time.Time) *PresignedURL {
	out := &PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: expires.UTC(),
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if len(req.Header) > 0 {
		out.Headers = make(map[string]string, len(req.Header))
		for k, v := range req.Header {
			if len(v) > 0 {
				out.Headers[http.CanonicalHeaderKey(k)] = v[0]
			}
		}
	}
	return out
}
