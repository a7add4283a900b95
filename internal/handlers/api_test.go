package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/media"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// stubSigner records the last request it signed.
type stubSigner struct {
	lastTTL  time.Duration
	lastSize int64
	lastType string
}

func (s *stubSigner) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*storage.PresignedRequest, error) {
	s.lastTTL, s.lastSize, s.lastType = ttl, size, contentType
	return &storage.PresignedRequest{
		URL:    "https://media.example.com/mediashelf/" + key + "?X-Amz-Signature=abc",
		Method: http.MethodPut,
		Header: http.Header{"content-type": {contentType}},
	}, nil
}

func (s *stubSigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (*storage.PresignedRequest, error) {
	s.lastTTL = ttl
	return &storage.PresignedRequest{
		URL:    "http://minio.internal:9000/mediashelf/" + key + "?X-Amz-Signature=def",
		Method: http.MethodGet,
	}, nil
}

func newAPIRouter(t *testing.T, signer storage.URLSigner) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("MediaShelf Storage Gateway", "test"))
	NewAPIHandler(newTestGateway(t, storage.NewMemoryBackend(0), signer)).Register(api)
	return router
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(h, req)
}

func TestCreateKey(t *testing.T) {
	h := newAPIRouter(t, nil)

	rec := postJSON(h, "/v1/keys", `{"category":"audio","ownerId":"user-42","filename":"Chapter 1.M4B"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", rec.Code, rec.Body)
	}
	var out struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	k, err := media.ParseKey(out.Key)
	if err != nil {
		t.Fatalf("generated key %q does not parse: %v", out.Key, err)
	}
	if k.Category != media.CategoryAudio || k.OwnerID != "user-42" || k.Ext != "m4b" {
		t.Errorf("key = %+v", k)
	}

	again := postJSON(h, "/v1/keys", `{"category":"audio","ownerId":"user-42","filename":"Chapter 1.M4B"}`)
	if strings.Contains(again.Body.String(), out.Key) {
		t.Error("two requests returned the same key")
	}
}

func TestCreateKeyValidation(t *testing.T) {
	h := newAPIRouter(t, nil)

	rec := postJSON(h, "/v1/keys", `{"category":"audio","ownerId":"../etc"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad owner status = %d", rec.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != "InvalidOwner" {
		t.Errorf("bad owner code = %q; body: %s", body.Code, rec.Body)
	}

	// Unknown categories are refused by the schema before the handler runs.
	rec = postJSON(h, "/v1/keys", `{"category":"podcast","ownerId":"u1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown category status = %d", rec.Code)
	}
}

func TestPresignUploadOperation(t *testing.T) {
	signer := &stubSigner{}
	h := newAPIRouter(t, signer)

	rec := postJSON(h, "/v1/presign/upload",
		`{"key":"`+testKey+`","contentType":"Audio/MPEG; charset=binary","ttl":86400,"size":1048576}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rec.Code, rec.Body)
	}
	var out gateway.PresignedURL
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.URL, "https://media.example.com/") || out.Method != http.MethodPut {
		t.Errorf("presigned = %+v", out)
	}
	if out.Headers["Content-Type"] != "audio/mpeg" {
		t.Errorf("headers = %v", out.Headers)
	}
	if signer.lastTTL != time.Hour {
		t.Errorf("ttl = %v, want clamp to 1h", signer.lastTTL)
	}
	if signer.lastSize != 1<<20 || signer.lastType != "audio/mpeg" {
		t.Errorf("signed size=%d type=%q", signer.lastSize, signer.lastType)
	}

	rec = postJSON(h, "/v1/presign/upload", `{"key":"`+testKey+`","contentType":"application/zip"}`)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("disallowed type status = %d", rec.Code)
	}
}

func TestPresignDownloadOperation(t *testing.T) {
	signer := &stubSigner{}
	h := newAPIRouter(t, signer)

	rec := postJSON(h, "/v1/presign/download", `{"key":"`+testKey+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rec.Code, rec.Body)
	}
	var out gateway.PresignedURL
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.URL, "http://minio.internal:9000/") || out.Method != http.MethodGet {
		t.Errorf("presigned = %+v", out)
	}
	if signer.lastTTL != 15*time.Minute {
		t.Errorf("ttl = %v, want the default", signer.lastTTL)
	}
}

func TestPresignWithoutSigner(t *testing.T) {
	h := newAPIRouter(t, nil)
	rec := postJSON(h, "/v1/presign/download", `{"key":"`+testKey+`"}`)
	if rec.Code != http.StatusNotImplemented || !strings.Contains(rec.Body.String(), "PresignUnsupported") {
		t.Errorf("status = %d; body: %s", rec.Code, rec.Body)
	}
}
