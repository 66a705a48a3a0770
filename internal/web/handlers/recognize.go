package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/face-registry/internal/recognition"
)

// Recognizer is the recognition flow used by the handlers.
type Recognizer interface {
	Recognize(ctx context.Context, photo []byte) (*recognition.RecognizeResult, error)
}

// RecognizeHandler handles the recognition endpoint
type RecognizeHandler struct {
	recognizer Recognizer
	maxUpload  int64
}

// NewRecognizeHandler creates a new recognize handler
func NewRecognizeHandler(recognizer Recognizer, maxUpload int64) *RecognizeHandler {
	return &RecognizeHandler{recognizer: recognizer, maxUpload: maxUpload}
}

// Recognize ranks enrolled subjects against the face in the uploaded photo.
// An empty match list is a 200 with a diagnostic message, not an error.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.maxUpload) {
		return
	}
	photo, err := readUpload(r, "photo")
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	result, err := h.recognizer.Recognize(r.Context(), photo)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
