package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/logger"
	"github.com/kozaktomas/face-registry/internal/recognition"
)

// Enroller is the enrollment flow used by the handlers.
type Enroller interface {
	Enroll(ctx context.Context, subjectID string, video []byte) (*recognition.EnrollResult, error)
	EnrollImages(ctx context.Context, subjectID string, photos [][]byte) (*recognition.EnrollResult, error)
	Delete(ctx context.Context, subjectID string) (int, error)
}

// EnrollHandler handles enrollment endpoints
type EnrollHandler struct {
	enroller  Enroller
	resolver  SubjectResolver
	maxUpload int64
	onChange  func()
}

// NewEnrollHandler creates a new enroll handler. onChange, if set, runs after
// every successful enrollment.
func NewEnrollHandler(enroller Enroller, resolver SubjectResolver, maxUpload int64, onChange func()) *EnrollHandler {
	if resolver == nil {
		resolver = NormalizingResolver{}
	}
	return &EnrollHandler{
		enroller:  enroller,
		resolver:  resolver,
		maxUpload: maxUpload,
		onChange:  onChange,
	}
}

// Enroll replaces a subject's embeddings with those sampled from the uploaded video.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := resolveSubject(w, r, h.resolver)
	if !ok {
		return
	}
	if !parseMultipart(w, r, h.maxUpload) {
		return
	}
	video, err := readUpload(r, "video")
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if len(video) == 0 {
		respondFailure(w, r, recognition.NewInputError(recognition.MsgNoVideo))
		return
	}

	result, err := h.enroller.Enroll(r.Context(), subjectID, video)
	h.respondEnrolled(w, r, result, err)
}

// EnrollPhotos replaces a subject's embeddings with those of the uploaded photos.
func (h *EnrollHandler) EnrollPhotos(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := resolveSubject(w, r, h.resolver)
	if !ok {
		return
	}
	if !parseMultipart(w, r, h.maxUpload) {
		return
	}
	photos, err := readUploads(r, "photos")
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded photos")
		return
	}

	result, err := h.enroller.EnrollImages(r.Context(), subjectID, photos)
	h.respondEnrolled(w, r, result, err)
}

func (h *EnrollHandler) respondEnrolled(w http.ResponseWriter, r *http.Request, result *recognition.EnrollResult, err error) {
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if h.onChange != nil {
		h.onChange()
	}
	logger.FromContext(r.Context()).Info("subject enrolled",
		zap.String("subject_id", sanitizeForLog(result.SubjectID)),
		zap.Int("embeddings", result.TotalEmbeddings),
	)
	respondJSON(w, http.StatusCreated, result)
}

// resolveSubject resolves the {subjectID} path parameter, responding 400 on failure.
func resolveSubject(w http.ResponseWriter, r *http.Request, resolver SubjectResolver) (string, bool) {
	id, err := resolver.Resolve(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_subject", Message: err.Error()})
		return "", false
	}
	return id, true
}
