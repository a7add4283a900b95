package storage

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// idleTimeoutBody cancels the backend request when a single Read blocks for
// longer than timeout. Time spent between reads (a slow downstream client)
// does not count. Close always cancels the request context.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	return &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timeout > 0 {
		b.arm()
		defer b.disarm()
	}
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF && b.expired.Load() {
		return n, gwerr.ErrStorageTimeout.WithMessage("backend body stalled for more than %s", b.timeout).Wrap(err)
	}
	return n, err
}

func (b *idleTimeoutBody) arm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, b.expire)
		return
	}
	b.timer.Reset(b.timeout)
}

func (b *idleTimeoutBody) disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *idleTimeoutBody) expire() {
	b.expired.Store(true)
	b.cancel()
}

func (b *idleTimeoutBody) Close() error {
	b.disarm()
	b.cancel()
	return b.rc.Close()
}
