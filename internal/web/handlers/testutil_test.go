package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-registry/internal/recognition"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartRequest builds a multipart POST with one file part per entry of files.
func multipartRequest(t *testing.T, path, field string, files ...[]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, data := range files {
		part, err := mw.CreateFormFile(field, "upload"+string(rune('a'+i))+".bin")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected code and message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode, expectedMessage string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Error != expectedCode {
		t.Errorf("expected error '%s', got '%s'", expectedCode, result.Error)
	}
	if expectedMessage != "" && result.Message != expectedMessage {
		t.Errorf("expected message '%s', got '%s'", expectedMessage, result.Message)
	}
}

type enrollCall struct {
	subjectID string
	payloads  int
	bytes     int
}

// fakeEnroller records calls and returns the configured result or error
type fakeEnroller struct {
	err        error
	deleted    int
	calls      []enrollCall
	deleteArgs []string
}

func (f *fakeEnroller) Enroll(_ context.Context, subjectID string, video []byte) (*recognition.EnrollResult, error) {
	f.calls = append(f.calls, enrollCall{subjectID: subjectID, payloads: 1, bytes: len(video)})
	if f.err != nil {
		return nil, f.err
	}
	return &recognition.EnrollResult{SubjectID: subjectID, TotalEmbeddings: 6, FramesProcessed: 6, Message: "ok"}, nil
}

func (f *fakeEnroller) EnrollImages(_ context.Context, subjectID string, photos [][]byte) (*recognition.EnrollResult, error) {
	f.calls = append(f.calls, enrollCall{subjectID: subjectID, payloads: len(photos)})
	if f.err != nil {
		return nil, f.err
	}
	return &recognition.EnrollResult{SubjectID: subjectID, TotalEmbeddings: len(photos), FramesProcessed: len(photos)}, nil
}

func (f *fakeEnroller) Delete(_ context.Context, subjectID string) (int, error) {
	f.deleteArgs = append(f.deleteArgs, subjectID)
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

type fakeRecognizer struct {
	result *recognition.RecognizeResult
	err    error
	photo  []byte
}

func (f *fakeRecognizer) Recognize(_ context.Context, photo []byte) (*recognition.RecognizeResult, error) {
	f.photo = photo
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
