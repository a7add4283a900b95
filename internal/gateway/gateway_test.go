package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/media"
	"github.com/mediashelf/mediashelf/internal/storage"
)

const mib = 1 << 20

// countingStore wraps the in-memory backend, counts every backend call and
// can inject failures.
type countingStore struct {
	*storage.MemoryBackend

	puts, gets, heads, deletes atomic.Int32
	presignPuts, presignGets   atomic.Int32

	// err, when set, is returned by every data call.
	err error
	// shortRange makes ranged reads report one byte fewer than asked for.
	shortRange bool

	lastTTL  time.Duration
	lastSize int64
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryBackend: storage.NewMemoryBackend(0)}
}

func (s *countingStore) calls() int32 {
	return s.puts.Load() + s.gets.Load() + s.heads.Load() + s.deletes.Load() +
		s.presignPuts.Load() + s.presignGets.Load()
}

func (s *countingStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error) {
	s.puts.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return s.MemoryBackend.PutObject(ctx, key, body, size, contentType)
}

func (s *countingStore) GetObject(ctx context.Context, key string, rng *storage.ByteRange) (*storage.ObjectReader, error) {
	s.gets.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	obj, err := s.MemoryBackend.GetObject(ctx, key, rng)
	if err == nil && rng != nil && s.shortRange {
		obj.Length--
	}
	return obj, err
}

func (s *countingStore) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.heads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.MemoryBackend.HeadObject(ctx, key)
}

func (s *countingStore) DeleteObject(ctx context.Context, key string) error {
	s.deletes.Add(1)
	if s.err != nil {
		return s.err
	}
	return s.MemoryBackend.DeleteObject(ctx, key)
}

func (s *countingStore) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*storage.PresignedRequest, error) {
	s.presignPuts.Add(1)
	s.lastTTL, s.lastSize = ttl, size
	return &storage.PresignedRequest{
		URL:    "https://media.example.com/media/" + key + "?X-Amz-Signature=abc",
		Method: http.MethodPut,
		Header: http.Header{"content-type": {contentType}},
	}, nil
}

func (s *countingStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (*storage.PresignedRequest, error) {
	s.presignGets.Add(1)
	s.lastTTL = ttl
	return &storage.PresignedRequest{
		URL:    "http://minio.internal:9000/media/" + key + "?X-Amz-Signature=abc",
		Method: http.MethodGet,
	}, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	sizes := make(map[media.Category]int64)
	for _, c := range media.Categories() {
		sizes[c] = 2 * mib
	}
	sizes[media.CategoryAudio] = 16 * mib
	sizes[media.CategoryBookCover] = 1024
	return Options{
		MaxSizes:          sizes,
		PresignDefaultTTL: 15 * time.Minute,
		PresignMaxTTL:     time.Hour,
		Now:               func() time.Time { return fixedNow },
	}
}

func newTestGateway(t *testing.T) (*Gateway, *countingStore) {
	t.Helper()
	store := newCountingStore()
	g, err := New(store, store, testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g, store
}

// patterned returns n bytes where no short run repeats, so a wrong offset
// shows up as a content mismatch.
func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func readStream(t *testing.T, s *Stream) []byte {
	t.Helper()
	if s.Body == nil {
		t.Fatal("stream has no body")
	}
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return data
}

func TestNewRequiresEveryLimit(t *testing.T) {
	opts := testOptions()
	delete(opts.MaxSizes, media.CategoryVideo)
	if _, err := New(newCountingStore(), nil, opts); !errors.Is(err, gwerr.ErrConfiguration) {
		t.Errorf("missing video limit: err = %v, want ConfigurationError", err)
	}

	opts = testOptions()
	opts.PresignMaxTTL = 0
	if _, err := New(newCountingStore(), nil, opts); !errors.Is(err, gwerr.ErrConfiguration) {
		t.Errorf("zero TTL ceiling: err = %v, want ConfigurationError", err)
	}

	if _, err := New(nil, nil, testOptions()); !errors.Is(err, gwerr.ErrConfiguration) {
		t.Errorf("nil store: err = %v, want ConfigurationError", err)
	}
}

func TestAudioRangeScenario(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	data := patterned(10 * mib)

	k, err := g.GenerateKey(media.CategoryAudio, "abc", "My Song.MP3")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	key := k.String()
	if !regexp.MustCompile(`^audio/abc/[0-9a-f]{32}\.mp3$`).MatchString(key) {
		t.Fatalf("key %q does not follow the audio layout", key)
	}

	res, err := g.PutObject(ctx, key, bytes.NewReader(data), "audio/mpeg", int64(len(data)))
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if res.Key != key || res.Size != 10485760 || res.ContentType != "audio/mpeg" {
		t.Errorf("unexpected result %+v", res)
	}

	s, err := g.StreamObject(ctx, key, "bytes=1000000-1999999")
	if err != nil {
		t.Fatalf("StreamObject failed: %v", err)
	}
	if s.Status != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", s.Status)
	}
	h := s.Header()
	if got := h.Get("Content-Range"); got != "bytes 1000000-1999999/10485760" {
		t.Errorf("Content-Range = %q", got)
	}
	if h.Get("Content-Length") != "1000000" || h.Get("Accept-Ranges") != "bytes" || h.Get("Content-Type") != "audio/mpeg" {
		t.Errorf("headers = %v", h)
	}
	body := readStream(t, s)
	if len(body) != 1000000 || !bytes.Equal(body, data[1000000:2000000]) {
		t.Errorf("body has %d bytes, or the wrong span", len(body))
	}

	// Past the end of the object.
	s, err = g.StreamObject(ctx, key, "bytes=99999999-")
	if !errors.Is(err, gwerr.ErrRangeNotSatisfiable) {
		t.Fatalf("err = %v, want RangeNotSatisfiable", err)
	}
	if s == nil || s.Status != http.StatusRequestedRangeNotSatisfiable || s.Body != nil {
		t.Fatalf("unexpected 416 stream %+v", s)
	}
	if got := s.Header().Get("Content-Range"); got != "bytes */10485760" {
		t.Errorf("Content-Range = %q, want bytes */10485760", got)
	}

	// Deleted keys are absent, not unavailable.
	if err := g.DeleteObject(ctx, key); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if _, err := g.StreamObject(ctx, key, "bytes=1000000-1999999"); !gwerr.IsNotFound(err) {
		t.Errorf("after delete err = %v, want NotFound", err)
	}
	if store.gets.Load() != 1 {
		t.Errorf("backend GETs = %d, want 1 (the 416 and 404 need only a HEAD)", store.gets.Load())
	}
}

func TestStreamFullObject(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	key := "book/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.pdf"
	data := patterned(5000)
	if _, err := g.PutObject(ctx, key, bytes.NewReader(data), "application/pdf; charset=binary", -1); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	for _, header := range []string{"", "bytes=0-99,200-299"} {
		s, err := g.StreamObject(ctx, key, header)
		if err != nil {
			t.Fatalf("StreamObject(%q) failed: %v", header, err)
		}
		if s.Status != http.StatusOK || s.ContentLength != 5000 || s.ContentRange != "" {
			t.Errorf("StreamObject(%q) = status %d length %d range %q", header, s.Status, s.ContentLength, s.ContentRange)
		}
		if s.ContentType != "application/pdf" {
			t.Errorf("content type = %q, want the stored application/pdf", s.ContentType)
		}
		if body := readStream(t, s); !bytes.Equal(body, data) {
			t.Errorf("StreamObject(%q) returned %d bytes, want the whole object", header, len(body))
		}
	}
	if store.heads.Load() != 0 {
		t.Errorf("full reads issued %d HEAD probes, want 0", store.heads.Load())
	}
}

func TestOversizedRangeBounds(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	key := "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"
	if _, err := g.PutObject(ctx, key, bytes.NewReader(patterned(1000)), "audio/mpeg", -1); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	for _, header := range []string{"bytes=0-99999999999999999999", "bytes=-99999999999999999999"} {
		s, err := g.StreamObject(ctx, key, header)
		if err != nil {
			t.Fatalf("StreamObject(%q) failed: %v", header, err)
		}
		if s.Status != http.StatusPartialContent || s.ContentRange != "bytes 0-999/1000" {
			t.Errorf("StreamObject(%q) = status %d range %q", header, s.Status, s.ContentRange)
		}
		if body := readStream(t, s); len(body) != 1000 {
			t.Errorf("StreamObject(%q) returned %d bytes", header, len(body))
		}
	}

	s, err := g.StreamObject(ctx, key, "bytes=99999999999999999999-")
	if !errors.Is(err, gwerr.ErrRangeNotSatisfiable) || s == nil || s.ContentRange != "bytes */1000" {
		t.Errorf("start past int64 = %v, %v, want RangeNotSatisfiable", s, err)
	}
}

func TestMalformedRangeNeverReachesBackend(t *testing.T) {
	g, store := newTestGateway(t)
	for _, header := range []string{"bytes=abc", "bytes=1-x", "bytes 0-10", "items=0-10", "bytes=--5", "bytes=-"} {
		s, err := g.StreamObject(context.Background(), "audio/u1/abc.mp3", header)
		if !errors.Is(err, gwerr.ErrMalformedRange) || s != nil {
			t.Errorf("StreamObject(%q) = %v, %v, want MalformedRange", header, s, err)
		}
	}
	if n := store.calls(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

// TestRangeExhaustive checks every single-range header against a small
// object: the body is exactly the span the header selects, and anything
// that selects nothing is a 416 with no body.
func TestRangeExhaustive(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	for size := 1; size <= 6; size++ {
		key := fmt.Sprintf("image/u1/%032x.png", size)
		data := patterned(size)
		if _, err := g.PutObject(ctx, key, bytes.NewReader(data), "image/png", int64(size)); err != nil {
			t.Fatalf("PutObject failed: %v", err)
		}

		type tc struct {
			header     string
			start, end int
			ok         bool
		}
		var cases []tc
		for s := 0; s <= size+2; s++ {
			cases = append(cases, tc{fmt.Sprintf("bytes=%d-", s), s, size - 1, s < size})
			for e := 0; e <= size+2; e++ {
				end := min(e, size-1)
				cases = append(cases, tc{fmt.Sprintf("bytes=%d-%d", s, e), s, end, s < size && s <= end})
			}
		}
		for n := 0; n <= size+2; n++ {
			cases = append(cases, tc{fmt.Sprintf("bytes=-%d", n), max(size-n, 0), size - 1, n > 0})
		}

		for _, c := range cases {
			s, err := g.StreamObject(ctx, key, c.header)
			if !c.ok {
				if !errors.Is(err, gwerr.ErrRangeNotSatisfiable) {
					t.Errorf("size %d %s: err = %v, want 416", size, c.header, err)
					continue
				}
				if s.Body != nil || s.ContentRange != fmt.Sprintf("bytes */%d", size) {
					t.Errorf("size %d %s: bad 416 stream %+v", size, c.header, s)
				}
				continue
			}
			if err != nil {
				t.Errorf("size %d %s: unexpected err %v", size, c.header, err)
				continue
			}
			want := data[c.start : c.end+1]
			got := readStream(t, s)
			if s.Status != http.StatusPartialContent || !bytes.Equal(got, want) || s.ContentLength != int64(len(want)) {
				t.Errorf("size %d %s: status %d body %v, want 206 %v", size, c.header, s.Status, got, want)
			}
			wantRange := fmt.Sprintf("bytes %d-%d/%d", c.start, c.end, size)
			if s.ContentRange != wantRange {
				t.Errorf("size %d %s: Content-Range %q, want %q", size, c.header, s.ContentRange, wantRange)
			}
		}
	}
}

func TestRangeOnEmptyObject(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	key := "book/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.txt"
	if _, err := g.PutObject(ctx, key, strings.NewReader(""), "text/plain", 0); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	s, err := g.StreamObject(ctx, key, "bytes=0-")
	if !errors.Is(err, gwerr.ErrRangeNotSatisfiable) || s.ContentRange != "bytes */0" {
		t.Errorf("got %+v, %v, want 416 bytes */0", s, err)
	}
	s, err = g.StreamObject(ctx, key, "")
	if err != nil || s.Status != http.StatusOK || s.ContentLength != 0 {
		t.Errorf("full read of empty object = %+v, %v", s, err)
	}
}

func TestShortRangeFromBackendIsStorageError(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	key := "video/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp4"
	if _, err := g.PutObject(ctx, key, bytes.NewReader(patterned(100)), "video/mp4", 100); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	store.shortRange = true
	if _, err := g.StreamObject(ctx, key, "bytes=10-19"); !gwerr.IsStorage(err) {
		t.Errorf("err = %v, want StorageError", err)
	}
}

func TestStorageFailureIsNotNotFound(t *testing.T) {
	g, store := newTestGateway(t)
	store.err = gwerr.ErrStorageUnavailable.WithMessage("connection refused")
	ctx := context.Background()
	key := "video/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp4"

	for _, header := range []string{"", "bytes=0-1"} {
		if _, err := g.StreamObject(ctx, key, header); !gwerr.IsStorage(err) || gwerr.IsNotFound(err) {
			t.Errorf("StreamObject(%q) err = %v, want StorageError", header, err)
		}
	}
	if _, err := g.HeadObject(ctx, key); !gwerr.IsStorage(err) {
		t.Errorf("HeadObject err = %v, want StorageError", err)
	}
}

func TestHeadObject(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	key := "video-cover/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.webp"
	if _, err := g.PutObject(ctx, key, bytes.NewReader(patterned(300)), "image/webp", 300); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	s, err := g.HeadObject(ctx, key)
	if err != nil {
		t.Fatalf("HeadObject failed: %v", err)
	}
	h := s.Header()
	if s.Body != nil || h.Get("Content-Length") != "300" || h.Get("Content-Type") != "image/webp" || h.Get("Accept-Ranges") != "bytes" {
		t.Errorf("unexpected head %+v / %v", s, h)
	}
	if h.Get("ETag") == "" || h.Get("Last-Modified") == "" {
		t.Errorf("validators missing from %v", h)
	}
	if store.gets.Load() != 0 {
		t.Errorf("HEAD issued %d GETs", store.gets.Load())
	}
}

func TestRejectedUploadsMakeNoBackendCalls(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		key         string
		contentType string
		size        int64
		want        error
	}{
		{"disallowed type", "audio/u1/abc.mp3", "application/x-msdownload", 10, gwerr.ErrInvalidContentType},
		{"video into audio", "audio/u1/abc.mp3", "video/mp4", 10, gwerr.ErrInvalidContentType},
		{"cover as pdf", "book-cover/u1/abc.jpg", "application/pdf", 10, gwerr.ErrInvalidContentType},
		{"empty type", "audio/u1/abc.mp3", "", 10, gwerr.ErrInvalidContentType},
		{"declared oversize", "book-cover/u1/abc.jpg", "image/jpeg", 1025, gwerr.ErrEntityTooLarge},
		{"bad key", "../etc/passwd", "audio/mpeg", 10, gwerr.ErrInvalidKey},
		{"unknown category", "podcast/u1/abc.mp3", "audio/mpeg", 10, gwerr.ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.PutObject(ctx, tt.key, strings.NewReader("0123456789"), tt.contentType, tt.size)
			if !errors.Is(err, tt.want) || !gwerr.IsValidation(err) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if _, err := g.PresignUpload(ctx, tt.key, tt.contentType, time.Minute, tt.size); !errors.Is(err, tt.want) {
				t.Errorf("presign err = %v, want %v", err, tt.want)
			}
		})
	}
	if n := store.calls(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

func TestUploadBodyDisagreesWithDeclaredSize(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	key := "book-cover/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.jpg"

	tests := []struct {
		name     string
		body     int
		declared int64
		want     error
	}{
		{"unknown size over limit", 1025, -1, gwerr.ErrEntityTooLarge},
		{"longer than declared", 600, 500, gwerr.ErrEntityTooLarge},
		{"shorter than declared", 400, 500, gwerr.ErrIncompleteBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.PutObject(ctx, key, bytes.NewReader(patterned(tt.body)), "image/jpeg", tt.declared)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if _, err := store.MemoryBackend.HeadObject(ctx, key); !gwerr.IsNotFound(err) {
				t.Errorf("object was stored despite a bad body")
			}
		})
	}

	res, err := g.PutObject(ctx, key, bytes.NewReader(patterned(1024)), "image/jpeg", -1)
	if err != nil || res.Size != 1024 {
		t.Errorf("upload at exactly the limit = %+v, %v", res, err)
	}
}

// brokenBody fails like a client that disconnects mid-upload.
type brokenBody struct{ sent bool }

func (b *brokenBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset by peer")
}

func TestClientDisconnectIsIncompleteBody(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.PutObject(context.Background(), "audio/u1/abc.mp3", &brokenBody{}, "audio/mpeg", -1)
	if !errors.Is(err, gwerr.ErrIncompleteBody) || gwerr.IsStorage(err) {
		t.Errorf("err = %v, want IncompleteBody", err)
	}
}

func TestUploadStorageFailure(t *testing.T) {
	g, store := newTestGateway(t)
	store.err = gwerr.ErrStorageUnavailable.WithMessage("bucket quota exceeded")
	_, err := g.PutObject(context.Background(), "audio/u1/abc.mp3", strings.NewReader("id3"), "audio/mpeg", 3)
	if !gwerr.IsStorage(err) {
		t.Errorf("err = %v, want StorageError", err)
	}
}

func TestDeleteObject(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	if err := g.DeleteObject(ctx, "audio/u1/never-stored.mp3"); !errors.Is(err, gwerr.ErrInvalidKey) {
		t.Errorf("err = %v, want InvalidKey for a non-hex discriminator", err)
	}
	if err := g.DeleteObject(ctx, "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"); err != nil {
		t.Errorf("deleting an absent key = %v, want nil", err)
	}

	store.err = gwerr.ErrStorageTimeout.WithMessage("delete timed out")
	before := store.deletes.Load()
	if err := g.DeleteObject(ctx, "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"); !gwerr.IsStorage(err) {
		t.Errorf("err = %v, want StorageError", err)
	}
	if got := store.deletes.Load() - before; got != 1 {
		t.Errorf("backend deletes = %d, want exactly 1 (no retry)", got)
	}

	store.err = gwerr.ErrNoSuchKey.WithMessage("gone")
	if err := g.DeleteObject(ctx, "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"); err != nil {
		t.Errorf("backend not-found = %v, want nil", err)
	}
}

func TestPresignTTL(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()
	key := "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"

	tests := []struct {
		ask, want time.Duration
	}{
		{0, 15 * time.Minute},
		{-time.Second, 15 * time.Minute},
		{5 * time.Minute, 5 * time.Minute},
		{time.Hour, time.Hour},
		{30 * 24 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		u, err := g.PresignDownload(ctx, key, tt.ask)
		if err != nil {
			t.Fatalf("PresignDownload(%v) failed: %v", tt.ask, err)
		}
		if store.lastTTL != tt.want || !u.ExpiresAt.Equal(fixedNow.Add(tt.want)) {
			t.Errorf("ttl %v: signed for %v expiring %v, want %v", tt.ask, store.lastTTL, u.ExpiresAt, tt.want)
		}
		if u.Method != http.MethodGet || !strings.HasPrefix(u.URL, "http://minio.internal:9000/") {
			t.Errorf("download URL = %+v", u)
		}
	}
}

func TestPresignUpload(t *testing.T) {
	g, store := newTestGateway(t)
	u, err := g.PresignUpload(context.Background(), "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3", "Audio/MPEG", 2*time.Hour, -1)
	if err != nil {
		t.Fatalf("PresignUpload failed: %v", err)
	}
	if u.Method != http.MethodPut || !strings.HasPrefix(u.URL, "https://media.example.com/") {
		t.Errorf("upload URL = %+v", u)
	}
	if u.Headers["Content-Type"] != "audio/mpeg" {
		t.Errorf("headers = %v, want the normalised content type", u.Headers)
	}
	if store.lastTTL != time.Hour || store.lastSize != -1 {
		t.Errorf("signed ttl=%v size=%d", store.lastTTL, store.lastSize)
	}
	if store.puts.Load() != 0 {
		t.Errorf("presigning wrote to the backend")
	}
}

func TestPresignWithoutSigner(t *testing.T) {
	g, err := New(newCountingStore(), nil, testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = g.PresignDownload(context.Background(), "audio/u1/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3", 0)
	if !errors.Is(err, gwerr.ErrPresignUnsupported) {
		t.Errorf("err = %v, want PresignUnsupported", err)
	}
}

func TestUploadWhileStreaming(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	data := patterned(64 * 1024)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			key := fmt.Sprintf("audio/u%d/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3", i)
			if _, err := g.PutObject(ctx, key, bytes.NewReader(data), "audio/mpeg", int64(len(data))); err != nil {
				done <- err
				return
			}
			s, err := g.StreamObject(ctx, key, "bytes=-100")
			if err != nil {
				done <- err
				return
			}
			body, _ := io.ReadAll(s.Body)
			s.Body.Close()
			if !bytes.Equal(body, data[len(data)-100:]) {
				done <- fmt.Errorf("%s: wrong suffix", key)
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}
