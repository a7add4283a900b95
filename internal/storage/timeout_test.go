package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// stallingBody blocks every Read until its context is cancelled.
type stallingBody struct {
	ctx context.Context
}

func (s stallingBody) Read(p []byte) (int, error) {
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

func (s stallingBody) Close() error { return nil }

func TestIdleTimeoutBodyCancelsStalledRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := newIdleTimeoutBody(stallingBody{ctx: ctx}, 20*time.Millisecond, cancel)
	defer body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := body.Read(make([]byte, 8))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, gwerr.ErrStorageTimeout) {
			t.Fatalf("err = %v, want StorageTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stalled read was never cancelled")
	}
}

func TestIdleTimeoutBodyIgnoresSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := newIdleTimeoutBody(io.NopCloser(strings.NewReader("abcdef")), 10*time.Millisecond, cancel)

	buf := make([]byte, 2)
	var got []byte
	for {
		n, err := body.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	if string(got) != "abcdef" {
		t.Errorf("got %q", got)
	}
	if ctx.Err() != nil {
		t.Error("context cancelled before Close")
	}
	body.Close()
	if ctx.Err() == nil {
		t.Error("Close did not cancel the request context")
	}
}

// newStalledServer accepts connections but never writes a response.
func newStalledServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

// callWithin fails the test if call does not return before limit.
func callWithin(t *testing.T, limit time.Duration, call func(ctx context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 4*limit)
	defer cancel()
	start := time.Now()
	err := call(ctx)
	if elapsed := time.Since(start); elapsed > limit {
		t.Fatalf("call returned after %v, want under %v", elapsed, limit)
	}
	return err
}

func TestClassifyTransportTimeout(t *testing.T) {
	err := classify("head", "audio/u1/abc.mp3", &net.OpError{Op: "read", Err: timeoutError{}})
	if !errors.Is(err, gwerr.ErrStorageTimeout) {
		t.Errorf("err = %v, want StorageTimeout", err)
	}
	err = classify("head", "audio/u1/abc.mp3", errors.New("connection reset"))
	if !errors.Is(err, gwerr.ErrStorageUnavailable) {
		t.Errorf("err = %v, want StorageUnavailable", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
