package faceembed

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_DetectAndEmbed(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")
		if _, err := io.ReadAll(file); err != nil {
			t.Errorf("reading upload: %v", err)
		}

		_ = json.NewEncoder(w).Encode(faceResponse{
			FacesCount: 2,
			Model:      "buffalo_s",
			Faces: []faceDetection{
				{FaceIndex: 0, Dim: 2, Embedding: []float32{1, 0}, BBox: []float64{10, 20, 30, 40}, DetScore: 0.95},
				{FaceIndex: 1, Dim: 2, Embedding: []float32{0, 1}, BBox: []float64{1, 2}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", 0)
	dets, err := c.DetectAndEmbed(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	if err != nil {
		t.Fatalf("DetectAndEmbed() error = %v", err)
	}

	if gotContentType != "image/jpeg" {
		t.Errorf("expected image/jpeg upload, got %q", gotContentType)
	}
	if len(dets) != 1 {
		t.Fatalf("expected malformed bbox to be dropped, got %d detections", len(dets))
	}
	if dets[0].BBox != [4]float64{10, 20, 30, 40} {
		t.Errorf("unexpected bbox %v", dets[0].BBox)
	}
	if dets[0].DetScore != 0.95 {
		t.Errorf("unexpected det score %v", dets[0].DetScore)
	}
	if c.Name() != "buffalo_s" {
		t.Errorf("expected model name from server, got %q", c.Name())
	}
}

func TestClient_DetectAndEmbed_ScalesBBoxBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(faceResponse{
			Faces: []faceDetection{{Embedding: []float32{1}, BBox: []float64{10, 10, 50, 25}}},
		})
	}))
	defer server.Close()

	// 400x200 is downscaled to 100x50 before upload, so boxes scale by 4.
	c := NewClient(server.URL, 100)
	dets, err := c.DetectAndEmbed(context.Background(), image.NewRGBA(image.Rect(0, 0, 400, 200)))
	if err != nil {
		t.Fatalf("DetectAndEmbed() error = %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	if want := [4]float64{40, 40, 200, 100}; dets[0].BBox != want {
		t.Errorf("bbox = %v; want %v", dets[0].BBox, want)
	}
	if c.Name() != defaultFaceModel {
		t.Errorf("expected default model name to be kept, got %q", c.Name())
	}
}

func TestClient_DetectAndEmbed_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0)
	_, err := c.DetectAndEmbed(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status code in error, got %v", err)
	}
}

func TestClient_DetectAndEmbed_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	c := NewClient(server.URL, 0)
	if _, err := c.DetectAndEmbed(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8))); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"too short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("GIF89a--"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.want {
				t.Errorf("detectMIMEType() = %q; want %q", got, tc.want)
			}
		})
	}
}
