package gateway

import (
	"context"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// DeleteObject removes key with a single backend call. An absent key is not
// an error, so callers can repeat the call as compensation after a failed
// multi-step operation. Failures are logged and returned, never retried here.
func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	if _, err := parseKey(ctx, key); err != nil {
		return err
	}

	start := time.Now()
	err := g.store.DeleteObject(ctx, key)
	if gwerr.IsNotFound(err) {
		err = nil
	}
	g.observe(ctx, "delete", key, start, err)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("Object deleted", "key", key, "backend", g.store.Name())
	return nil
}
