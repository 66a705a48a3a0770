package database

import (
	"context"
	"errors"
)

var (
	// ErrInvalidEmbedding is returned when a face cannot be stored because its
	// vector is empty, zero, or of the wrong dimension.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrIndexNotInitialized is returned when the in-memory index is queried before it is built.
	ErrIndexNotInitialized = errors.New("index not initialized")

	// ErrEmptySubject is returned when a write is attempted without a subject ID.
	ErrEmptySubject = errors.New("subject id is required")
)

// FaceReader provides read-only access to enrolled faces
type FaceReader interface {
	// QueryNearest returns up to k faces closest to embedding by cosine distance, nearest first.
	QueryNearest(ctx context.Context, embedding []float32, k int) ([]Candidate, error)
	// GetSubject returns a summary of the subject, or nil if it is not enrolled
	GetSubject(ctx context.Context, subjectID string) (*SubjectSummary, error)
	// GetSubjectFaces returns all faces of a subject ordered by embedding index
	GetSubjectFaces(ctx context.Context, subjectID string) ([]StoredFace, error)
	// ListSubjects returns every enrolled subject ordered by subject ID
	ListSubjects(ctx context.Context) ([]SubjectSummary, error)
	// Count returns the total number of faces stored
	Count(ctx context.Context) (int, error)
	// CountSubjects returns the number of distinct subjects
	CountSubjects(ctx context.Context) (int, error)
	// GetAllFaces returns every stored face
	GetAllFaces(ctx context.Context) ([]StoredFace, error)
}

// FaceWriter provides write access to enrolled faces
type FaceWriter interface {
	FaceReader

	// UpsertSubject replaces all faces of a subject with the given set in one
	// all-or-nothing step and returns the number of faces stored.
	UpsertSubject(ctx context.Context, subjectID string, faces []StoredFace) (int, error)

	// DeleteSubject removes all faces of a subject and returns how many were removed.
	// Deleting an unknown subject is not an error.
	DeleteSubject(ctx context.Context, subjectID string) (int, error)
}

// HNSWRebuilder is implemented by stores backed by an in-memory HNSW index
type HNSWRebuilder interface {
	RebuildHNSW(ctx context.Context) error
	SaveHNSWIndex() error
	HNSWCount() int
}

// FaceStore is the full storage capability used by the orchestrators and the CLI.
type FaceStore interface {
	FaceWriter
	HNSWRebuilder
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
