package handlers

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/media"
)

// KeyInput is the request for a fresh storage key.
type KeyInput struct {
	Body struct {
		Category string `json:"category" enum:"book,book-cover,audio,audio-cover,video,video-cover,folder-cover,image" doc:"Media category"`
		OwnerID  string `json:"ownerId" minLength:"1" maxLength:"128" doc:"Id of the owning user"`
		Filename string `json:"filename,omitempty" doc:"Original filename, used only for its extension"`
	}
}

// KeyOutput returns a generated storage key.
type KeyOutput struct {
	Body struct {
		Key string `json:"key" example:"audio/abc/0190a1b2c3d4e5f6a7b8c9d0e1f2a3b4.mp3"`
	}
}

// PresignUploadInput requests a browser upload URL.
type PresignUploadInput struct {
	Body struct {
		Key         string `json:"key" doc:"Storage key previously generated for this upload"`
		ContentType string `json:"contentType" doc:"Content type the browser will send"`
		TTL         int64  `json:"ttl,omitempty" minimum:"0" doc:"Lifetime in seconds; 0 uses the default, longer values are clamped"`
		Size        *int64 `json:"size,omitempty" minimum:"0" doc:"Exact upload size in bytes, signed into the URL when given"`
	}
}

// PresignDownloadInput requests a read URL.
type PresignDownloadInput struct {
	Body struct {
		Key string `json:"key"`
		TTL int64  `json:"ttl,omitempty" minimum:"0" doc:"Lifetime in seconds; 0 uses the default, longer values are clamped"`
	}
}

// PresignOutput returns a presigned URL.
type PresignOutput struct {
	Body *gateway.PresignedURL
}

// APIHandler serves the JSON operations documented in the OpenAPI spec.
type APIHandler struct {
	gw *gateway.Gateway
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(gw *gateway.Gateway) *APIHandler {
	return &APIHandler{gw: gw}
}

// Register adds the operations to api.
func (h *APIHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/v1/keys",
		Summary:       "Generate a storage key",
		Description:   "Returns a fresh key for a new upload. Keys are never reused.",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusCreated,
	}, h.createKey)

	huma.Register(api, huma.Operation{
		OperationID: "presign-upload",
		Method:      http.MethodPost,
		Path:        "/v1/presign/upload",
		Summary:     "Presign a browser upload",
		Description: "Signs a PUT against the public storage endpoint.",
		Tags:        []string{"Presign"},
	}, h.presignUpload)

	huma.Register(api, huma.Operation{
		OperationID: "presign-download",
		Method:      http.MethodPost,
		Path:        "/v1/presign/download",
		Summary:     "Presign a download",
		Description: "Signs a GET against the internal storage endpoint.",
		Tags:        []string{"Presign"},
	}, h.presignDownload)
}

func (h *APIHandler) createKey(ctx context.Context, in *KeyInput) (*KeyOutput, error) {
	cat, ok := media.ParseCategory(in.Body.Category)
	if !ok {
		return nil, apiError(ctx, gwerr.ErrInvalidCategory.WithMessage("unknown media category %q", in.Body.Category))
	}
	k, err := h.gw.GenerateKey(cat, in.Body.OwnerID, in.Body.Filename)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	out := &KeyOutput{}
	out.Body.Key = k.String()
	return out, nil
}

func (h *APIHandler) presignUpload(ctx context.Context, in *PresignUploadInput) (*PresignOutput, error) {
	size := int64(-1)
	if in.Body.Size != nil {
		size = *in.Body.Size
	}
	u, err := h.gw.PresignUpload(ctx, in.Body.Key, in.Body.ContentType, seconds(in.Body.TTL), size)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &PresignOutput{Body: u}, nil
}

func (h *APIHandler) presignDownload(ctx context.Context, in *PresignDownloadInput) (*PresignOutput, error) {
	u, err := h.gw.PresignDownload(ctx, in.Body.Key, seconds(in.Body.TTL))
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &PresignOutput{Body: u}, nil
}

// seconds converts a TTL in seconds. Absurd values saturate instead of
// overflowing; the gateway clamps them to its ceiling anyway.
func seconds(n int64) time.Duration {
	return time.Duration(min(n, math.MaxInt32)) * time.Second
}
