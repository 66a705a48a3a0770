package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/logger"
)

// SubjectsHandler handles subject listing and removal
type SubjectsHandler struct {
	store    database.FaceReader
	enroller Enroller
	resolver SubjectResolver
	onChange func()
}

// NewSubjectsHandler creates a new subjects handler
func NewSubjectsHandler(store database.FaceReader, enroller Enroller, resolver SubjectResolver, onChange func()) *SubjectsHandler {
	if resolver == nil {
		resolver = NormalizingResolver{}
	}
	return &SubjectsHandler{
		store:    store,
		enroller: enroller,
		resolver: resolver,
		onChange: onChange,
	}
}

// SubjectListResponse is the body of GET /subjects.
type SubjectListResponse struct {
	Subjects []database.SubjectSummary `json:"subjects"`
	Count    int                       `json:"count"`
}

// DeleteSubjectResponse is the body of DELETE /subjects/{subjectID}.
type DeleteSubjectResponse struct {
	SubjectID string `json:"subject_id"`
	Deleted   int    `json:"deleted"`
}

// List returns all enrolled subjects
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.ListSubjects(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list subjects", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list subjects")
		return
	}
	if subjects == nil {
		subjects = []database.SubjectSummary{}
	}
	respondJSON(w, http.StatusOK, SubjectListResponse{Subjects: subjects, Count: len(subjects)})
}

// Get returns a single subject
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := resolveSubject(w, r, h.resolver)
	if !ok {
		return
	}

	subject, err := h.store.GetSubject(r.Context(), subjectID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to get subject",
			zap.String("subject_id", sanitizeForLog(subjectID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get subject")
		return
	}
	if subject == nil {
		respondError(w, http.StatusNotFound, "subject not found")
		return
	}
	respondJSON(w, http.StatusOK, subject)
}

// Delete removes a subject. Deleting an unknown subject succeeds with 0 deleted.
func (h *SubjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := resolveSubject(w, r, h.resolver)
	if !ok {
		return
	}

	deleted, err := h.enroller.Delete(r.Context(), subjectID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if deleted > 0 && h.onChange != nil {
		h.onChange()
	}
	respondJSON(w, http.StatusOK, DeleteSubjectResponse{SubjectID: subjectID, Deleted: deleted})
}
