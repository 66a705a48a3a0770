// Package bolt stores face embeddings in an embedded bbolt file and serves
// queries from an in-memory HNSW index rebuilt at open.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/metrics"
)

const backendName = "bolt"

var (
	bucketFaces    = []byte("faces")    // face ID -> storedFace JSON
	bucketSubjects = []byte("subjects") // subject ID -> JSON list of face IDs
	bucketMeta     = []byte("meta")
	keyDim         = []byte("dim")
)

type storedFace struct {
	SubjectID      string    `json:"s"`
	EmbeddingIndex int       `json:"i"`
	Embedding      []float32 `json:"v"`
	BBox           []float64 `json:"b,omitempty"`
	DetScore       float64   `json:"d"`
	Model          string    `json:"m,omitempty"`
	CreatedAt      time.Time `json:"t"`
}

// Store is a bbolt-backed database.FaceStore.
type Store struct {
	db     *bbolt.DB
	dim    int
	locks  *database.SubjectLocks
	index  *database.HNSWIndex
	logger *zap.Logger

	// rebuildMu keeps writers out while the index is rebuilt from the file.
	rebuildMu sync.RWMutex
}

// Open opens or creates the bbolt file at path. A file created with a
// different embedding dimension is rejected.
func Open(path string, dim int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketFaces, bucketSubjects, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return checkDim(tx.Bucket(bucketMeta), dim)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		dim:    dim,
		locks:  database.NewSubjectLocks(),
		index:  database.NewHNSWIndex(),
		logger: logger,
	}
	if err := s.RebuildHNSW(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkDim records dim on first use and rejects a mismatch afterwards.
func checkDim(meta *bbolt.Bucket, dim int) error {
	if dim <= 0 {
		return nil
	}
	stored := meta.Get(keyDim)
	if stored == nil {
		return meta.Put(keyDim, []byte(strconv.Itoa(dim)))
	}
	n, err := strconv.Atoi(string(stored))
	if err != nil {
		return fmt.Errorf("corrupt dim marker %q: %w", stored, err)
	}
	if n != dim {
		return fmt.Errorf("store was created for %d-dim embeddings, configured %d", n, dim)
	}
	return nil
}

// DB returns the underlying bbolt handle.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// UpsertSubject replaces all faces of a subject inside one bbolt transaction.
func (s *Store) UpsertSubject(ctx context.Context, subjectID string, faces []database.StoredFace) (int, error) {
	defer metrics.ObserveStore(backendName, "upsert", time.Now())

	prepared, err := database.PrepareFaces(subjectID, faces, s.dim, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()
	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	var oldIDs []string
	err = s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		oldIDs, err = deleteSubjectTx(tx, subjectID)
		if err != nil {
			return err
		}
		return putSubjectTx(tx, subjectID, prepared)
	})
	if err != nil {
		return 0, fmt.Errorf("replace subject faces: %w", err)
	}

	s.index.Replace(oldIDs, prepared)
	return len(prepared), nil
}

// DeleteSubject removes every face of a subject. Unknown subjects return 0.
func (s *Store) DeleteSubject(ctx context.Context, subjectID string) (int, error) {
	defer metrics.ObserveStore(backendName, "delete", time.Now())

	if subjectID == "" {
		return 0, database.ErrEmptySubject
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()
	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	var ids []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		ids, err = deleteSubjectTx(tx, subjectID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete subject faces: %w", err)
	}

	s.index.Replace(ids, nil)
	return len(ids), nil
}

func subjectFaceIDs(tx *bbolt.Tx, subjectID string) ([]string, error) {
	data := tx.Bucket(bucketSubjects).Get([]byte(subjectID))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode face list of %s: %w", subjectID, err)
	}
	return ids, nil
}

func deleteSubjectTx(tx *bbolt.Tx, subjectID string) ([]string, error) {
	ids, err := subjectFaceIDs(tx, subjectID)
	if err != nil {
		return nil, err
	}
	faces := tx.Bucket(bucketFaces)
	for _, id := range ids {
		if err := faces.Delete([]byte(id)); err != nil {
			return nil, err
		}
	}
	if err := tx.Bucket(bucketSubjects).Delete([]byte(subjectID)); err != nil {
		return nil, err
	}
	return ids, nil
}

func putSubjectTx(tx *bbolt.Tx, subjectID string, faces []database.StoredFace) error {
	if len(faces) == 0 {
		return nil
	}
	b := tx.Bucket(bucketFaces)
	ids := make([]string, len(faces))
	for i := range faces {
		f := &faces[i]
		data, err := json.Marshal(storedFace{
			SubjectID:      f.SubjectID,
			EmbeddingIndex: f.EmbeddingIndex,
			Embedding:      f.Embedding,
			BBox:           f.BBox,
			DetScore:       f.DetScore,
			Model:          f.Model,
			CreatedAt:      f.CreatedAt,
		})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(f.ID), data); err != nil {
			return err
		}
		ids[i] = f.ID
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSubjects).Put([]byte(subjectID), data)
}

func decodeFace(id, data []byte) (database.StoredFace, error) {
	var sf storedFace
	if err := json.Unmarshal(data, &sf); err != nil {
		return database.StoredFace{}, fmt.Errorf("decode face %s: %w", id, err)
	}
	return database.StoredFace{
		ID:             string(id),
		SubjectID:      sf.SubjectID,
		EmbeddingIndex: sf.EmbeddingIndex,
		Embedding:      sf.Embedding,
		BBox:           sf.BBox,
		DetScore:       sf.DetScore,
		Model:          sf.Model,
		Dim:            len(sf.Embedding),
		CreatedAt:      sf.CreatedAt,
	}, nil
}

// QueryNearest returns up to k faces nearest to embedding from the HNSW index.
func (s *Store) QueryNearest(ctx context.Context, embedding []float32, k int) ([]database.Candidate, error) {
	defer metrics.ObserveStore(backendName, "query", time.Now())

	if k <= 0 {
		return nil, nil
	}
	query, err := database.EnsureUnit(embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrInvalidEmbedding, err)
	}
	if s.dim > 0 && len(query) != s.dim {
		return nil, fmt.Errorf("%w: dimension %d, want %d", database.ErrInvalidEmbedding, len(query), s.dim)
	}
	cands, err := s.index.Nearest(query, k)
	if err != nil {
		return nil, fmt.Errorf("HNSW search: %w", err)
	}
	return cands, nil
}

// GetSubjectFaces returns all faces of a subject ordered by embedding index.
func (s *Store) GetSubjectFaces(ctx context.Context, subjectID string) ([]database.StoredFace, error) {
	var out []database.StoredFace
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids, err := subjectFaceIDs(tx, subjectID)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketFaces)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			face, err := decodeFace([]byte(id), data)
			if err != nil {
				return err
			}
			out = append(out, face)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b database.StoredFace) int { return a.EmbeddingIndex - b.EmbeddingIndex })
	return out, nil
}

// GetAllFaces returns every stored face ordered by subject and embedding index.
func (s *Store) GetAllFaces(ctx context.Context) ([]database.StoredFace, error) {
	var out []database.StoredFace
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFaces).ForEach(func(k, v []byte) error {
			face, err := decodeFace(k, v)
			if err != nil {
				return err
			}
			out = append(out, face)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b database.StoredFace) int {
		if a.SubjectID != b.SubjectID {
			if a.SubjectID < b.SubjectID {
				return -1
			}
			return 1
		}
		return a.EmbeddingIndex - b.EmbeddingIndex
	})
	return out, nil
}

func summarize(subjectID string, faces []database.StoredFace) database.SubjectSummary {
	sum := database.SubjectSummary{SubjectID: subjectID, Embeddings: len(faces)}
	for i, f := range faces {
		if i == 0 || f.CreatedAt.Before(sum.EnrolledAt) {
			sum.EnrolledAt = f.CreatedAt
		}
		if f.Model != "" {
			sum.Model = f.Model
		}
	}
	return sum
}

// GetSubject returns a summary of the subject, or nil if it has no faces.
func (s *Store) GetSubject(ctx context.Context, subjectID string) (*database.SubjectSummary, error) {
	faces, err := s.GetSubjectFaces(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}
	sum := summarize(subjectID, faces)
	return &sum, nil
}

// ListSubjects returns every enrolled subject ordered by subject ID. bbolt
// iterates keys in byte order, so no extra sort is needed.
func (s *Store) ListSubjects(ctx context.Context) ([]database.SubjectSummary, error) {
	var subjects []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubjects).ForEach(func(k, _ []byte) error {
			subjects = append(subjects, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]database.SubjectSummary, 0, len(subjects))
	for _, id := range subjects {
		sum, err := s.GetSubject(ctx, id)
		if err != nil {
			return nil, err
		}
		if sum != nil {
			out = append(out, *sum)
		}
	}
	return out, nil
}

func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// Count returns the total number of faces stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = countKeys(tx.Bucket(bucketFaces))
		return nil
	})
	return n, err
}

// CountSubjects returns the number of enrolled subjects.
func (s *Store) CountSubjects(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = countKeys(tx.Bucket(bucketSubjects))
		return nil
	})
	return n, err
}

// Stats returns store-wide counters.
func (s *Store) Stats(ctx context.Context) (database.Stats, error) {
	faces, err := s.Count(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	subjects, err := s.CountSubjects(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	return database.Stats{
		Faces:       faces,
		Subjects:    subjects,
		HNSWEnabled: true,
		HNSWCount:   s.index.Count(),
		Backend:     backendName,
	}, nil
}

// RebuildHNSW rebuilds the in-memory index from the bbolt file.
func (s *Store) RebuildHNSW(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	faces, err := s.GetAllFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}
	if err := s.index.BuildFromFaces(faces); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}
	s.logger.Info("face index built", zap.String("backend", backendName), zap.Int("faces", len(faces)))
	return nil
}

// SaveHNSWIndex is a no-op: the index is rebuilt from the file at open.
func (s *Store) SaveHNSWIndex() error {
	return nil
}

// HNSWCount returns the number of faces in the HNSW index.
func (s *Store) HNSWCount() int {
	return s.index.Count()
}

// Ping reports whether the file is still open.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

// Close closes the bbolt file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing bolt db: %w", err)
	}
	return nil
}

var _ database.FaceStore = (*Store)(nil)
