package recognition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_StatusCode(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{newError(KindInput, MsgNoVideo, nil), http.StatusBadRequest},
		{newError(KindNoFaceDetected, MsgNoFaceInPhoto, nil), http.StatusUnprocessableEntity},
		{insufficientSamples(1, 3, videoHint), http.StatusUnprocessableEntity},
		{newError(KindStoreFailure, MsgStoreFailed, nil), http.StatusInternalServerError},
		{newError(KindProcessing, MsgTimedOut, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{newError(KindProcessing, MsgProcessingFailed, context.Canceled), http.StatusServiceUnavailable},
		{newError(KindUnknown, "x", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			if got := tt.err.StatusCode(); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("enroll: %w", newError(KindStoreFailure, MsgStoreFailed, cause))

	if KindOf(err) != KindStoreFailure {
		t.Errorf("expected KindStoreFailure, got %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if err.Error() != "enroll: "+MsgStoreFailed {
		t.Errorf("unexpected message %q", err.Error())
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected KindUnknown for foreign errors")
	}
}

func TestProcessingError(t *testing.T) {
	if processingError(context.Background()) != nil {
		t.Error("expected nil for a live context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := processingError(ctx); err == nil || err.Message != MsgProcessingFailed {
		t.Errorf("unexpected error for canceled context: %v", err)
	}
}
