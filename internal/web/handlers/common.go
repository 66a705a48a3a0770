package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/logger"
	"github.com/kozaktomas/face-registry/internal/recognition"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response whose code is derived from status.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: errorCode(status), Message: message})
}

// errorCode turns an HTTP status into a snake_case code, e.g. "bad_request".
func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// respondFailure maps an error from the recognition flows to its HTTP status.
// Unknown errors become a generic 500 and are logged.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *recognition.Error
	if errors.As(err, &rerr) {
		respondJSON(w, rerr.StatusCode(), ErrorResponse{Error: rerr.Kind.String(), Message: rerr.Message})
		return
	}
	logger.FromContext(r.Context()).Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// parseMultipart parses the request body as multipart form data. It writes
// the error response itself and returns false on failure.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxUpload int64) bool {
	if maxUpload > 0 {
		if r.ContentLength > maxUpload {
			respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return false
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	}
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
	default:
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
	}
	return false
}

// readUpload returns the content of the single file in field. A missing
// field yields nil data and no error so the caller can report it in domain terms.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, recognition.NewInputError(recognition.MsgEmptyFilename)
	}
	return io.ReadAll(file)
}

// readUploads returns the content of every file in field.
func readUploads(r *http.Request, field string) ([][]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	out := make([][]byte, 0, len(headers))
	for _, header := range headers {
		data, err := func() ([]byte, error) {
			file, err := header.Open()
			if err != nil {
				return nil, err
			}
			defer file.Close()
			return io.ReadAll(file)
		}()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and, when the store supports it, readiness.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a health handler. store may be nil.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
