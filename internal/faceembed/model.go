// Package faceembed turns images into unit-length face embeddings.
package faceembed

import (
	"context"
	"image"
)

// Detection is one face found by the model runtime.
type Detection struct {
	BBox      [4]float64 // [x1, y1, x2, y2] in source pixel coordinates
	Embedding []float32  // raw model output, not necessarily normalized
	DetScore  float64
}

// Area returns the bounding box area; inverted boxes count as zero.
func (d Detection) Area() float64 {
	w := d.BBox[2] - d.BBox[0]
	h := d.BBox[3] - d.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Model is a loaded face-analysis runtime.
type Model interface {
	// DetectAndEmbed locates faces in img and returns one detection per face.
	DetectAndEmbed(ctx context.Context, img image.Image) ([]Detection, error)
	// Name identifies the model for stored metadata.
	Name() string
}

// SelectLargest returns the detection with the largest bounding box area.
// Equal areas keep the earliest detection.
func SelectLargest(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Area() > dets[best].Area() {
			best = i
		}
	}
	return dets[best], true
}
