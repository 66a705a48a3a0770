// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
)

// MockFaceStore is an in-memory database.FaceStore with exact (brute force) search.
type MockFaceStore struct {
	mu    sync.RWMutex
	faces map[string][]database.StoredFace // by subject ID
	locks *database.SubjectLocks
	dim   int

	// Error injection
	UpsertError  error
	DeleteError  error
	QueryError   error
	GetError     error
	ListError    error
	CountError   error
	RebuildError error

	// Call recording
	UpsertCalls  []UpsertCall
	DeleteCalls  []string
	QueryCalls   int
	RebuildCalls int
	SaveCalls    int
}

// UpsertCall records a call to UpsertSubject
type UpsertCall struct {
	SubjectID string
	Faces     int
}

// NewMockFaceStore creates a new mock store. A dim of 0 accepts any embedding length.
func NewMockFaceStore(dim int) *MockFaceStore {
	return &MockFaceStore{
		faces: make(map[string][]database.StoredFace),
		locks: database.NewSubjectLocks(),
		dim:   dim,
	}
}

// UpsertSubject replaces all faces of a subject
func (m *MockFaceStore) UpsertSubject(ctx context.Context, subjectID string, faces []database.StoredFace) (int, error) {
	unlock := m.locks.Lock(subjectID)
	defer unlock()

	m.mu.Lock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{SubjectID: subjectID, Faces: len(faces)})
	m.mu.Unlock()

	if m.UpsertError != nil {
		return 0, m.UpsertError
	}

	prepared, err := database.PrepareFaces(subjectID, faces, m.dim, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(prepared) == 0 {
		delete(m.faces, subjectID)
	} else {
		m.faces[subjectID] = prepared
	}
	return len(prepared), nil
}

// DeleteSubject removes all faces of a subject
func (m *MockFaceStore) DeleteSubject(ctx context.Context, subjectID string) (int, error) {
	unlock := m.locks.Lock(subjectID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, subjectID)
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	n := len(m.faces[subjectID])
	delete(m.faces, subjectID)
	return n, nil
}

// QueryNearest returns the k nearest faces by exact cosine distance
func (m *MockFaceStore) QueryNearest(ctx context.Context, embedding []float32, k int) ([]database.Candidate, error) {
	m.mu.Lock()
	m.QueryCalls++
	m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Candidate
	for _, subject := range m.sortedSubjects() {
		for _, f := range m.faces[subject] {
			out = append(out, database.Candidate{
				FaceID:    f.ID,
				SubjectID: f.SubjectID,
				Distance:  database.CosineDistance(embedding, f.Embedding),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GetSubject returns a subject summary or nil
func (m *MockFaceStore) GetSubject(ctx context.Context, subjectID string) (*database.SubjectSummary, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	faces, ok := m.faces[subjectID]
	if !ok {
		return nil, nil
	}
	s := summarize(subjectID, faces)
	return &s, nil
}

// GetSubjectFaces returns the faces of a subject
func (m *MockFaceStore) GetSubjectFaces(ctx context.Context, subjectID string) ([]database.StoredFace, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredFace(nil), m.faces[subjectID]...), nil
}

// ListSubjects returns all subjects ordered by ID
func (m *MockFaceStore) ListSubjects(ctx context.Context) ([]database.SubjectSummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.SubjectSummary, 0, len(m.faces))
	for _, id := range m.sortedSubjects() {
		out = append(out, summarize(id, m.faces[id]))
	}
	return out, nil
}

// Count returns the total number of faces
func (m *MockFaceStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, faces := range m.faces {
		n += len(faces)
	}
	return n, nil
}

// CountSubjects returns the number of subjects
func (m *MockFaceStore) CountSubjects(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

// GetAllFaces returns every face
func (m *MockFaceStore) GetAllFaces(ctx context.Context) ([]database.StoredFace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredFace
	for _, id := range m.sortedSubjects() {
		out = append(out, m.faces[id]...)
	}
	return out, nil
}

// Stats returns store counters
func (m *MockFaceStore) Stats(ctx context.Context) (database.Stats, error) {
	faces, err := m.Count(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	subjects, err := m.CountSubjects(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	return database.Stats{Faces: faces, Subjects: subjects, Backend: "mock"}, nil
}

// RebuildHNSW records the call
func (m *MockFaceStore) RebuildHNSW(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RebuildCalls++
	return m.RebuildError
}

// SaveHNSWIndex records the call
func (m *MockFaceStore) SaveHNSWIndex() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	return nil
}

// HNSWCount returns 0, the mock has no index
func (m *MockFaceStore) HNSWCount() int {
	return 0
}

// Close is a no-op
func (m *MockFaceStore) Close() error {
	return nil
}

func (m *MockFaceStore) sortedSubjects() []string {
	ids := make([]string, 0, len(m.faces))
	for id := range m.faces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func summarize(subjectID string, faces []database.StoredFace) database.SubjectSummary {
	s := database.SubjectSummary{SubjectID: subjectID, Embeddings: len(faces)}
	if len(faces) > 0 {
		s.Model = faces[0].Model
		s.EnrolledAt = faces[0].CreatedAt
	}
	return s
}

var _ database.FaceStore = (*MockFaceStore)(nil)
