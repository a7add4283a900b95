package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/httputil"
	"github.com/mediashelf/mediashelf/internal/metrics"
)

// Stream is a response ready to be written to a client. Body is nil for
// HEAD and for 416 responses; otherwise the caller must close it.
type Stream struct {
	Status        int
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	// ContentRange is set for 206 ("bytes s-e/size") and 416 ("bytes */size").
	ContentRange string
	ObjectSize   int64
	ETag         string
	LastModified time.Time
}

// Header returns the response headers for the stream.
func (s *Stream) Header() http.Header {
	h := http.Header{}
	h.Set("Accept-Ranges", "bytes")
	if s.ContentRange != "" {
		h.Set("Content-Range", s.ContentRange)
	}
	if s.Status == http.StatusRequestedRangeNotSatisfiable {
		return h
	}
	ct := s.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	h.Set("Content-Length", strconv.FormatInt(s.ContentLength, 10))
	if s.ETag != "" {
		h.Set("ETag", s.ETag)
	}
	if !s.LastModified.IsZero() {
		h.Set("Last-Modified", httputil.FormatTimeHTTP(s.LastModified))
	}
	return h
}

// StreamObject opens key for a GET carrying rangeHeader.
//
// Without a usable single range the whole object is returned with status
// 200. A single range is resolved against the size from a HEAD probe and
// served as 206 with exactly that span. An unsatisfiable range returns a
// RangeNotSatisfiable error together with a non-nil Stream holding the 416
// headers.
func (g *Gateway) StreamObject(ctx context.Context, key, rangeHeader string) (*Stream, error) {
	if _, err := parseKey(ctx, key); err != nil {
		return nil, err
	}
	spec, err := ParseRange(rangeHeader)
	if err != nil {
		metrics.RangeRequestsTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}
	if spec == nil {
		return g.streamFull(ctx, key)
	}
	return g.streamRange(ctx, key, spec)
}

func (g *Gateway) streamFull(ctx context.Context, key string) (*Stream, error) {
	start := time.Now()
	obj, err := g.store.GetObject(ctx, key, nil)
	g.observe(ctx, "get", key, start, err)
	if err != nil {
		return nil, err
	}

	metrics.RangeRequestsTotal.WithLabelValues("full").Inc()
	return &Stream{
		Status:        http.StatusOK,
		Body:          &streamedBody{ReadCloser: obj.Body},
		ContentType:   obj.Info.ContentType,
		ContentLength: obj.Length,
		ObjectSize:    obj.Info.Size,
		ETag:          obj.Info.ETag,
		LastModified:  obj.Info.LastModified,
	}, nil
}

func (g *Gateway) streamRange(ctx context.Context, key string, spec *RangeSpec) (*Stream, error) {
	start := time.Now()
	info, err := g.store.HeadObject(ctx, key)
	g.observe(ctx, "head", key, start, err)
	if err != nil {
		return nil, err
	}

	br, err := spec.Resolve(info.Size)
	if err != nil {
		return unsatisfiable(info.Size, err)
	}

	start = time.Now()
	obj, err := g.store.GetObject(ctx, key, &br)
	if err == nil && (obj.Length != br.Length() || obj.Info.Size != info.Size) {
		obj.Body.Close()
		err = gwerr.ErrStorageUnavailable.WithMessage(
			"get %s: backend returned %d bytes of a %d byte object for %s, expected %d bytes of %d",
			key, obj.Length, obj.Info.Size, br.HeaderValue(), br.Length(), info.Size)
	}
	g.observe(ctx, "get-range", key, start, err)
	if err != nil {
		if errors.Is(err, gwerr.ErrRangeNotSatisfiable) {
			return unsatisfiable(info.Size, err)
		}
		return nil, err
	}

	ct := obj.Info.ContentType
	if ct == "" {
		ct = info.ContentType
	}
	metrics.RangeRequestsTotal.WithLabelValues("partial").Inc()
	return &Stream{
		Status:        http.StatusPartialContent,
		Body:          &streamedBody{ReadCloser: obj.Body},
		ContentType:   ct,
		ContentLength: br.Length(),
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, info.Size),
		ObjectSize:    info.Size,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
	}, nil
}

func unsatisfiable(size int64, err error) (*Stream, error) {
	metrics.RangeRequestsTotal.WithLabelValues("unsatisfiable").Inc()
	return &Stream{
		Status:       http.StatusRequestedRangeNotSatisfiable,
		ContentRange: fmt.Sprintf("bytes */%d", size),
		ObjectSize:   size,
	}, err
}

// HeadObject returns the headers a full GET of key would carry, without a body.
func (g *Gateway) HeadObject(ctx context.Context, key string) (*Stream, error) {
	if _, err := parseKey(ctx, key); err != nil {
		return nil, err
	}
	start := time.Now()
	info, err := g.store.HeadObject(ctx, key)
	g.observe(ctx, "head", key, start, err)
	if err != nil {
		return nil, err
	}
	return &Stream{
		Status:        http.StatusOK,
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		ObjectSize:    info.Size,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
	}, nil
}

// streamedBody counts the object bytes delivered to the client.
type streamedBody struct {
	io.ReadCloser
}

func (b *streamedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		metrics.BytesStreamedTotal.Add(float64(n))
	}
	return n, err
}
