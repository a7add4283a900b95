package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
	"github.com/mediashelf/mediashelf/internal/media"
	"github.com/mediashelf/mediashelf/internal/metrics"
)

// UploadResult describes a write the backend has acknowledged.
type UploadResult struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// PutObject validates and streams body to key. declaredSize is the exact
// body length, or -1 when unknown. Validation failures are returned before
// the backend is contacted; a body that turns out to be too long or short
// aborts the backend write and is reported as a validation error.
func (g *Gateway) PutObject(ctx context.Context, key string, body io.Reader, contentType string, declaredSize int64) (*UploadResult, error) {
	k, err := parseKey(ctx, key)
	if err != nil {
		return nil, err
	}
	ct, err := g.checkUpload(k, contentType, declaredSize)
	if err != nil {
		return nil, err
	}

	guard := &sizeGuard{r: body, max: g.maxSizes[k.Category], declared: declaredSize}
	start := time.Now()
	_, err = g.store.PutObject(ctx, key, guard, declaredSize, ct)
	if guard.err != nil {
		// The body failed, not the backend. Whatever the backend reported,
		// the write has been abandoned.
		g.observe(ctx, "put", key, start, guard.err)
		rejectUpload(k.Category, guard.err)
		return nil, guard.err
	}
	g.observe(ctx, "put", key, start, err)
	if err != nil {
		return nil, err
	}

	metrics.BytesUploadedTotal.WithLabelValues(string(k.Category)).Add(float64(guard.n))
	logging.FromContext(ctx).Info("Object stored",
		"key", key,
		"size", humanize.IBytes(uint64(guard.n)),
		"content_type", ct,
	)
	return &UploadResult{Key: key, Size: guard.n, ContentType: ct}, nil
}

// checkUpload applies the category allowlist and size limit. It returns the
// normalised content type.
func (g *Gateway) checkUpload(k media.Key, contentType string, declaredSize int64) (string, error) {
	ct := media.NormalizeContentType(contentType)
	if !k.Category.Allows(ct) {
		err := gwerr.ErrInvalidContentType.WithMessage(
			"content type %q is not allowed for category %s", contentType, k.Category)
		rejectUpload(k.Category, err)
		return "", err
	}
	if limit := g.maxSizes[k.Category]; declaredSize > limit {
		err := gwerr.ErrEntityTooLarge.WithMessage(
			"%s exceeds the %s limit for category %s",
			humanize.IBytes(uint64(declaredSize)), humanize.IBytes(uint64(limit)), k.Category)
		rejectUpload(k.Category, err)
		return "", err
	}
	return ct, nil
}

func rejectUpload(category media.Category, err error) {
	reason := "Invalid"
	if ge, ok := gwerr.As(err); ok {
		reason = ge.Code
	}
	metrics.UploadsRejectedTotal.WithLabelValues(string(category), reason).Inc()
}

// sizeGuard passes body bytes through and fails the moment the body exceeds
// the category limit or disagrees with its declared length. It never hands
// the consumer more than one byte past the limit.
type sizeGuard struct {
	r        io.Reader
	max      int64
	declared int64
	n        int64
	err      error
}

func (s *sizeGuard) limit() int64 {
	if s.declared >= 0 && s.declared < s.max {
		return s.declared
	}
	return s.max
}

func (s *sizeGuard) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	limit := s.limit()
	if room := limit - s.n + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := s.r.Read(p)
	if s.n+int64(n) > limit {
		return 0, s.fail(s.tooLarge())
	}
	s.n += int64(n)

	switch {
	case err == io.EOF:
		if s.declared >= 0 && s.n < s.declared {
			return n, s.fail(gwerr.ErrIncompleteBody.WithMessage(
				"body ended after %d of %d declared bytes", s.n, s.declared))
		}
	case err != nil:
		var ge *gwerr.GatewayError
		if errors.As(err, &ge) {
			return n, s.fail(ge)
		}
		return n, s.fail(gwerr.ErrIncompleteBody.WithMessage(
			"reading upload body failed after %d bytes", s.n).Wrap(err))
	}
	return n, err
}

func (s *sizeGuard) tooLarge() error {
	if s.declared >= 0 && s.declared < s.max {
		return gwerr.ErrEntityTooLarge.WithMessage("body is longer than the declared %d bytes", s.declared)
	}
	return gwerr.ErrEntityTooLarge.WithMessage("body exceeds the %s limit", humanize.IBytes(uint64(s.max)))
}

func (s *sizeGuard) fail(err error) error {
	s.err = err
	return err
}
