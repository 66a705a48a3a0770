package database

import (
	"time"
)

// StoredFace represents one enrolled face embedding.
// ID is unique per embedding; any number of faces share a SubjectID.
type StoredFace struct {
	ID             string
	SubjectID      string
	EmbeddingIndex int // position within the enrollment batch
	Embedding      []float32
	BBox           []float64 // [x1, y1, x2, y2] in source pixel coordinates
	DetScore       float64
	Model          string
	Dim            int
	CreatedAt      time.Time
}

// Candidate is a single nearest-neighbor hit returned by a store query.
type Candidate struct {
	FaceID    string
	SubjectID string
	Distance  float64 // cosine distance in [0, 2]
}

// Similarity returns 1 - Distance clamped to [0, 1], so vectors pointing
// away from the query report 0.
func (c Candidate) Similarity() float64 {
	return min(max(1-c.Distance, 0), 1)
}

// SubjectSummary describes an enrolled subject without its vectors.
type SubjectSummary struct {
	SubjectID  string    `json:"subject_id"`
	Embeddings int       `json:"embeddings"`
	Model      string    `json:"model,omitempty"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Stats holds store-wide counters.
type Stats struct {
	Faces       int    `json:"faces"`
	Subjects    int    `json:"subjects"`
	HNSWEnabled bool   `json:"hnsw_enabled"`
	HNSWCount   int    `json:"hnsw_count"`
	Backend     string `json:"backend"`
}
