package recognition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a recognition failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindNoFaceDetected
	KindInsufficientSamples
	KindStoreFailure
	KindModelFailure
	KindDecodeFailure
	KindProcessing
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNoFaceDetected:
		return "no_face"
	case KindInsufficientSamples:
		return "insufficient_samples"
	case KindStoreFailure:
		return "store_failure"
	case KindModelFailure:
		return "model_failure"
	case KindDecodeFailure:
		return "decode_failure"
	case KindProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// User-facing messages. Callers may show these verbatim.
const (
	MsgNoVideo          = "No video file uploaded"
	MsgNoPhoto          = "No photo uploaded"
	MsgEmptyFilename    = "Empty filename"
	MsgSubjectRequired  = "Subject id is required"
	MsgNoFaceInPhoto    = "No face detected in the photo"
	MsgNoFacesInVideo   = "No faces detected in the video. Please ensure your face is clearly visible."
	MsgNoFacesInPhotos  = "No faces detected in the photos. Please ensure your face is clearly visible."
	MsgStoreFailed      = "Failed to store face embeddings"
	MsgSearchFailed     = "Failed to search face embeddings"
	MsgDeleteFailed     = "Failed to delete subject"
	MsgTimedOut         = "Processing timed out"
	MsgProcessingFailed = "Failed to process media"
)

// Error is the error type returned by Enroller and Recognizer. Message is
// stable and safe to show; Err carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInput:
		return http.StatusBadRequest
	case KindNoFaceDetected, KindInsufficientSamples, KindModelFailure, KindDecodeFailure:
		return http.StatusUnprocessableEntity
	case KindProcessing:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func insufficientSamples(got, minimum int, hint string) *Error {
	return newError(KindInsufficientSamples,
		fmt.Sprintf("Only %d usable face samples found (minimum %d). %s", got, minimum, hint),
		nil)
}

// processingError reports why ctx stopped the request, or nil if it has not.
func processingError(ctx context.Context) *Error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindProcessing, MsgTimedOut, err)
	}
	return newError(KindProcessing, MsgProcessingFailed, err)
}

// NewInputError reports a problem with the request itself.
func NewInputError(msg string) *Error {
	return newError(KindInput, msg, nil)
}
