package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// objectsPrefix is the route every object operation lives under.
const objectsPrefix = "/v1/objects/"

// extractObjectKey returns the storage key from the request path. Routes
// registered with a trailing wildcard carry it as chi's "*" parameter; plain
// handlers fall back to trimming the path prefix.
func extractObjectKey(r *http.Request) string {
	if key := chi.URLParam(r, "*"); key != "" {
		return key
	}
	return strings.TrimPrefix(r.URL.Path, objectsPrefix)
}

// apiError converts err into the GatewayError a huma operation returns, with
// the request id filled in.
func apiError(ctx context.Context, err error) error {
	ge, ok := gwerr.As(err)
	if !ok {
		logging.FromContext(ctx).Error("Unhandled error", "error", err)
		ge = gwerr.ErrInternalError
	}
	cp := *ge
	cp.Err = nil
	cp.RequestID = logging.RequestID(ctx)
	return &cp
}
