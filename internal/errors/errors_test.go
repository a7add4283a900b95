package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCopiesMatchSentinel(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := ErrStorageUnavailable.WithMessage("put %s failed", "audio/u1/abc.mp3").Wrap(cause)

	if !stderrors.Is(err, ErrStorageUnavailable) {
		t.Fatal("copy should match ErrStorageUnavailable")
	}
	if stderrors.Is(err, ErrStorageTimeout) {
		t.Fatal("copy should not match ErrStorageTimeout")
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("copy should unwrap to its cause")
	}
	if ErrStorageUnavailable.Message == err.Message {
		t.Fatal("WithMessage modified the sentinel")
	}
	if ErrStorageUnavailable.Err != nil {
		t.Fatal("Wrap modified the sentinel")
	}
}

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("gateway: %w", ErrNoSuchKey)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
	if IsStorage(wrapped) {
		t.Error("not-found must not be classified as storage failure")
	}
	if ClassOf(fmt.Errorf("plain")) != ClassInternal {
		t.Error("plain errors should classify as internal")
	}
	if !IsValidation(ErrInvalidContentType) {
		t.Error("InvalidContentType should be a validation error")
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  *GatewayError
		want int
	}{
		{ErrInvalidContentType, http.StatusUnsupportedMediaType},
		{ErrEntityTooLarge, http.StatusRequestEntityTooLarge},
		{ErrMalformedRange, http.StatusBadRequest},
		{ErrNoSuchKey, http.StatusNotFound},
		{ErrRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable},
		{ErrStorageUnavailable, http.StatusBadGateway},
		{ErrStorageTimeout, http.StatusGatewayTimeout},
		{ErrNotReady, http.StatusServiceUnavailable},
		{ErrNoSuchRoute, http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := tt.err.GetStatus(); got != tt.want {
			t.Errorf("%s: GetStatus() = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestClassString(t *testing.T) {
	if ClassRangeNotSatisfiable.String() != "RangeNotSatisfiable" {
		t.Errorf("got %q", ClassRangeNotSatisfiable.String())
	}
	if ClassStorage.String() != "StorageError" {
		t.Errorf("got %q", ClassStorage.String())
	}
}
