package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-registry/internal/matching"
	"github.com/kozaktomas/face-registry/internal/recognition"
)

func TestRecognizeHandler_Match(t *testing.T) {
	recognizer := &fakeRecognizer{result: &recognition.RecognizeResult{
		Matches: []matching.Match{{
			SubjectID:       "alice",
			Similarity:      0.93,
			Confidence:      matching.ConfidenceVeryHigh,
			MatchPercentage: "93.00%",
			Distance:        0.07,
			Samples:         4,
		}},
		Diagnostic: matching.Diagnostic{BestSimilarity: 0.93, BestSubjectID: "alice", HasData: true},
		Found:      true,
		Message:    "Match found: alice (93.00%)",
	}}
	h := NewRecognizeHandler(recognizer, 0)

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", "photo", []byte("jpeg")))

	assertStatusCode(t, recorder, http.StatusOK)
	var body struct {
		Matches []matching.Match    `json:"matches"`
		Debug   matching.Diagnostic `json:"debug_info"`
		Message string              `json:"message"`
	}
	parseJSONResponse(t, recorder, &body)
	if len(body.Matches) != 1 || body.Matches[0].SubjectID != "alice" || body.Matches[0].Confidence != "Very High" {
		t.Errorf("unexpected matches: %+v", body.Matches)
	}
	if body.Debug.BestSubjectID != "alice" {
		t.Errorf("unexpected debug info: %+v", body.Debug)
	}
	if string(recognizer.photo) != "jpeg" {
		t.Errorf("unexpected photo passed to recognizer: %q", recognizer.photo)
	}
}

func TestRecognizeHandler_NoMatchIsOK(t *testing.T) {
	recognizer := &fakeRecognizer{result: &recognition.RecognizeResult{
		Matches: []matching.Match{},
		Message: "No matching subject found (best match was 62.00%, needed 15.00%)",
	}}
	h := NewRecognizeHandler(recognizer, 0)

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", "photo", []byte("jpeg")))

	assertStatusCode(t, recorder, http.StatusOK)
	var body map[string]any
	parseJSONResponse(t, recorder, &body)
	if matches, ok := body["matches"].([]any); !ok || len(matches) != 0 {
		t.Errorf("expected an empty matches array, got %v", body["matches"])
	}
}

func TestRecognizeHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no photo", recognition.NewInputError(recognition.MsgNoPhoto), http.StatusBadRequest, "input"},
		{"no face", &recognition.Error{Kind: recognition.KindNoFaceDetected, Message: recognition.MsgNoFaceInPhoto}, http.StatusUnprocessableEntity, "no_face"},
		{"search failed", &recognition.Error{Kind: recognition.KindStoreFailure, Message: recognition.MsgSearchFailed}, http.StatusInternalServerError, "store_failure"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRecognizeHandler(&fakeRecognizer{err: tc.err}, 0)
			recorder := httptest.NewRecorder()
			h.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", "photo", []byte("jpeg")))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.code, "")
		})
	}
}

func TestRecognizeHandler_MissingPhotoReachesRecognizer(t *testing.T) {
	recognizer := &fakeRecognizer{err: recognition.NewInputError(recognition.MsgNoPhoto)}
	h := NewRecognizeHandler(recognizer, 0)

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, multipartRequest(t, "/api/v1/recognize", "other"))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "input", recognition.MsgNoPhoto)
	if recognizer.photo != nil {
		t.Errorf("expected nil photo, got %q", recognizer.photo)
	}
}
