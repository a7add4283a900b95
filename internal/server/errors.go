package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// gatewayErrorTransformer renders Huma's own errors (schema validation,
// unreadable bodies) as GatewayErrors so every response shares one JSON
// error shape. It is registered per API, leaving huma.NewError untouched.
func gatewayErrorTransformer(ctx huma.Context, status string, v any) (any, error) {
	em, ok := v.(*huma.ErrorModel)
	if !ok {
		return v, nil
	}
	code := em.Status
	if code == 0 {
		code, _ = strconv.Atoi(status)
	}
	details := make([]error, 0, len(em.Errors))
	for _, d := range em.Errors {
		details = append(details, d)
	}
	e := fromHumaError(code, em.Detail, details...)
	e.RequestID = logging.RequestID(ctx.Context())
	ctx.SetHeader("Content-Type", "application/json")
	return e, nil
}

// fromHumaError maps a Huma status and message onto the matching
// GatewayError. Server-side failures keep their causes out of the message.
func fromHumaError(status int, msg string, errs ...error) *gwerr.GatewayError {
	base := gwerr.ErrInternalError
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		base = gwerr.ErrInvalidRequest
	case http.StatusNotFound:
		base = gwerr.ErrNoSuchRoute
	case http.StatusMethodNotAllowed:
		base = gwerr.ErrMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		base = gwerr.ErrEntityTooLarge
	case http.StatusUnsupportedMediaType:
		base = gwerr.ErrInvalidContentType
	case http.StatusServiceUnavailable:
		base = gwerr.ErrNotReady
	}

	if status >= http.StatusInternalServerError {
		e := base.WithMessage("%s", base.Message)
		e.HTTPStatus = status
		return e
	}

	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	if msg == "" {
		msg = base.Message
	}
	if len(details) > 0 {
		msg += ": " + strings.Join(details, "; ")
	}

	e := base.WithMessage("%s", msg)
	e.HTTPStatus = status
	return e
}
