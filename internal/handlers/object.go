package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/httputil"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// ObjectHandler serves the streaming object routes. These bypass huma so
// bodies flow straight between the client and the backend.
type ObjectHandler struct {
	gw *gateway.Gateway
}

// NewObjectHandler creates a new ObjectHandler.
func NewObjectHandler(gw *gateway.Gateway) *ObjectHandler {
	return &ObjectHandler{gw: gw}
}

// PutObject handles PUT and POST /v1/objects/{key}. The body is either the
// raw object, typed by Content-Type and optionally sized by Content-Length,
// or a multipart/form-data form with a "file" part.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	key := extractObjectKey(r)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.putMultipart(w, r, key)
		return
	}

	res, err := h.gw.PutObject(r.Context(), key, r.Body, r.Header.Get("Content-Type"), r.ContentLength)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// putMultipart streams the "file" part of a multipart form. An optional
// "size" field sent before the file declares its exact length; an optional
// "contentType" field overrides the part's own Content-Type.
func (h *ObjectHandler) putMultipart(w http.ResponseWriter, r *http.Request, key string) {
	mr, err := r.MultipartReader()
	if err != nil {
		httputil.WriteError(w, r, gwerr.ErrInvalidRequest.WithMessage("malformed multipart body: %v", err))
		return
	}

	size := int64(-1)
	contentType := ""
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httputil.WriteError(w, r, gwerr.ErrInvalidRequest.WithMessage("multipart body has no \"file\" part"))
			return
		}
		if err != nil {
			httputil.WriteError(w, r, gwerr.ErrIncompleteBody.WithMessage("reading multipart body: %v", err))
			return
		}

		switch part.FormName() {
		case "size":
			v, err := readField(part)
			if err == nil {
				size, err = strconv.ParseInt(v, 10, 64)
			}
			if err != nil || size < 0 {
				httputil.WriteError(w, r, gwerr.ErrInvalidRequest.WithMessage("size field must be a non-negative integer"))
				return
			}
		case "contentType":
			if contentType, err = readField(part); err != nil {
				httputil.WriteError(w, r, gwerr.ErrIncompleteBody.WithMessage("reading contentType field: %v", err))
				return
			}
		case "file":
			if contentType == "" {
				contentType = part.Header.Get("Content-Type")
			}
			res, err := h.gw.PutObject(r.Context(), key, part, contentType, size)
			part.Close()
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			httputil.WriteJSON(w, http.StatusCreated, res)
			return
		}
		part.Close()
	}
}

// readField reads a small form value.
func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// GetObject handles GET /v1/objects/{key}, honouring a single-range Range
// header. The body is streamed as it arrives from the backend.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key := extractObjectKey(r)

	stream, err := h.gw.StreamObject(r.Context(), key, r.Header.Get("Range"))
	if err != nil {
		if stream != nil && stream.Status == http.StatusRequestedRangeNotSatisfiable {
			// 416 carries Content-Range and no body.
			copyHeader(w.Header(), stream.Header())
			w.WriteHeader(stream.Status)
			return
		}
		httputil.WriteError(w, r, err)
		return
	}
	defer stream.Body.Close()

	copyHeader(w.Header(), stream.Header())
	w.WriteHeader(stream.Status)

	n, err := io.Copy(w, stream.Body)
	if err != nil {
		// Headers are gone; the short body against Content-Length is what
		// tells the client the stream failed.
		logging.FromContext(r.Context()).Warn("Object stream interrupted",
			"key", key,
			"sent", n,
			"expected", stream.ContentLength,
			"error", err,
		)
	}
}

// HeadObject handles HEAD /v1/objects/{key}.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	stream, err := h.gw.HeadObject(r.Context(), extractObjectKey(r))
	if err != nil {
		status := http.StatusInternalServerError
		if ge, ok := gwerr.As(err); ok {
			status = ge.HTTPStatus
		}
		w.WriteHeader(status)
		return
	}
	copyHeader(w.Header(), stream.Header())
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /v1/objects/{key}. Deleting an absent key
// returns 204 like any other delete.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.DeleteObject(r.Context(), extractObjectKey(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = v
	}
}
