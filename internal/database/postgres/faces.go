package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/metrics"
)

const backendName = "postgres"

const faceColumns = `id, subject_id, embedding_index, embedding, bbox, det_score, model, dim, created_at`

// querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used by helpers.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FaceRepository provides PostgreSQL-backed face storage with optional in-memory HNSW index.
type FaceRepository struct {
	pool   *Pool
	dim    int
	locks  *database.SubjectLocks
	logger *zap.Logger

	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewFaceRepository creates a new PostgreSQL face repository. A dim of 0
// accepts any embedding length the column allows.
func NewFaceRepository(pool *Pool, dim int) *FaceRepository {
	return &FaceRepository{
		pool:   pool,
		dim:    dim,
		locks:  database.NewSubjectLocks(),
		logger: pool.logger,
	}
}

// UpsertSubject replaces all faces of a subject in a single transaction. The
// HNSW index is only touched after the commit succeeded.
func (r *FaceRepository) UpsertSubject(ctx context.Context, subjectID string, faces []database.StoredFace) (int, error) {
	defer metrics.ObserveStore(backendName, "upsert", time.Now())

	prepared, err := database.PrepareFaces(subjectID, faces, r.dim, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	unlock := r.locks.Lock(subjectID)
	defer unlock()

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	oldIDs, err := scanFaceIDs(ctx, tx, subjectID)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM subject_faces WHERE subject_id = $1", subjectID); err != nil {
		return 0, fmt.Errorf("delete existing faces: %w", err)
	}

	if err := insertFaces(ctx, tx, prepared); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	r.updateHNSWFaces(oldIDs, prepared)

	r.logger.Debug("subject faces replaced",
		zap.String("subject_id", subjectID),
		zap.Int("removed", len(oldIDs)),
		zap.Int("stored", len(prepared)),
	)
	return len(prepared), nil
}

// insertFaces inserts prepared faces through a single prepared statement.
func insertFaces(ctx context.Context, tx *sql.Tx, faces []database.StoredFace) error {
	if len(faces) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subject_faces (id, subject_id, embedding_index, embedding, bbox, det_score, model, dim, created_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range faces {
		face := &faces[i]
		var bbox any
		if len(face.BBox) > 0 {
			bbox = pq.Array(face.BBox)
		}
		if _, err := stmt.ExecContext(ctx,
			face.ID,
			face.SubjectID,
			face.EmbeddingIndex,
			pgvector.NewVector(face.Embedding),
			bbox,
			face.DetScore,
			face.Model,
			face.Dim,
			face.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert face %d: %w", face.EmbeddingIndex, err)
		}
	}
	return nil
}

// DeleteSubject removes every face of a subject. Unknown subjects return 0.
func (r *FaceRepository) DeleteSubject(ctx context.Context, subjectID string) (int, error) {
	defer metrics.ObserveStore(backendName, "delete", time.Now())

	if subjectID == "" {
		return 0, database.ErrEmptySubject
	}

	unlock := r.locks.Lock(subjectID)
	defer unlock()

	rows, err := r.pool.Query(ctx, "DELETE FROM subject_faces WHERE subject_id = $1 RETURNING id", subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete faces: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, err
	}

	r.updateHNSWFaces(ids, nil)
	return len(ids), nil
}

// scanFaceIDs returns the IDs of a subject's faces inside tx.
func scanFaceIDs(ctx context.Context, tx *sql.Tx, subjectID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM subject_faces WHERE subject_id = $1", subjectID)
	if err != nil {
		return nil, fmt.Errorf("get face IDs: %w", err)
	}
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face IDs: %w", err)
	}
	return ids, nil
}

// updateHNSWFaces swaps old face IDs for new faces in the HNSW index.
func (r *FaceRepository) updateHNSWFaces(oldIDs []string, newFaces []database.StoredFace) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if !r.hnswEnabled || r.hnswIndex == nil {
		return
	}
	r.hnswIndex.Replace(oldIDs, newFaces)
}

// QueryNearest returns up to k faces nearest to embedding. Uses the in-memory
// HNSW index if enabled, otherwise falls back to pgvector.
func (r *FaceRepository) QueryNearest(ctx context.Context, embedding []float32, k int) ([]database.Candidate, error) {
	defer metrics.ObserveStore(backendName, "query", time.Now())

	if k <= 0 {
		return nil, nil
	}
	query, err := database.EnsureUnit(embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrInvalidEmbedding, err)
	}
	if r.dim > 0 && len(query) != r.dim {
		return nil, fmt.Errorf("%w: dimension %d, want %d", database.ErrInvalidEmbedding, len(query), r.dim)
	}

	r.hnswMu.RLock()
	idx := r.hnswIndex
	enabled := r.hnswEnabled && idx != nil
	r.hnswMu.RUnlock()

	if enabled {
		cands, err := idx.Nearest(query, k)
		if err != nil {
			return nil, fmt.Errorf("HNSW search: %w", err)
		}
		return cands, nil
	}
	return r.queryNearestPostgres(ctx, query, k)
}

// queryNearestPostgres uses pgvector for the search with ef_search raised to
// match the in-memory graph.
func (r *FaceRepository) queryNearestPostgres(ctx context.Context, query []float32, k int) ([]database.Candidate, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, subject_id, embedding <=> $1::vector AS distance
		FROM subject_faces
		ORDER BY distance, subject_id, embedding_index
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var out []database.Candidate
	for rows.Next() {
		var c database.Candidate
		if err := rows.Scan(&c.FaceID, &c.SubjectID, &c.Distance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// scanFaceRow scans a single row of faceColumns into a StoredFace.
func scanFaceRow(scanner interface{ Scan(...any) error }) (database.StoredFace, error) {
	var face database.StoredFace
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var model sql.NullString
	if err := scanner.Scan(
		&face.ID,
		&face.SubjectID,
		&face.EmbeddingIndex,
		&vec,
		&bbox,
		&face.DetScore,
		&model,
		&face.Dim,
		&face.CreatedAt,
	); err != nil {
		return face, fmt.Errorf("scan face: %w", err)
	}
	face.Embedding = vec.Slice()
	face.BBox = []float64(bbox)
	if model.Valid {
		face.Model = model.String
	}
	return face, nil
}

func scanFaces(rows *sql.Rows) ([]database.StoredFace, error) {
	defer rows.Close()

	var faces []database.StoredFace
	for rows.Next() {
		face, err := scanFaceRow(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// GetSubjectFaces returns all faces of a subject ordered by embedding index.
func (r *FaceRepository) GetSubjectFaces(ctx context.Context, subjectID string) ([]database.StoredFace, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+faceColumns+" FROM subject_faces WHERE subject_id = $1 ORDER BY embedding_index",
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("query subject faces: %w", err)
	}
	return scanFaces(rows)
}

// GetAllFaces retrieves all faces from the database.
func (r *FaceRepository) GetAllFaces(ctx context.Context) ([]database.StoredFace, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+faceColumns+" FROM subject_faces ORDER BY subject_id, embedding_index")
	if err != nil {
		return nil, fmt.Errorf("query all faces: %w", err)
	}
	return scanFaces(rows)
}

const subjectSummaryQuery = `
	SELECT subject_id, COUNT(*), COALESCE(MAX(model), ''), MIN(created_at)
	FROM subject_faces
`

func scanSummary(scanner interface{ Scan(...any) error }) (database.SubjectSummary, error) {
	var s database.SubjectSummary
	if err := scanner.Scan(&s.SubjectID, &s.Embeddings, &s.Model, &s.EnrolledAt); err != nil {
		return s, fmt.Errorf("scan subject: %w", err)
	}
	return s, nil
}

// GetSubject returns a summary of the subject, or nil if it has no faces.
func (r *FaceRepository) GetSubject(ctx context.Context, subjectID string) (*database.SubjectSummary, error) {
	row := r.pool.QueryRow(ctx, subjectSummaryQuery+" WHERE subject_id = $1 GROUP BY subject_id", subjectID)
	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubjects returns every enrolled subject ordered by subject ID.
func (r *FaceRepository) ListSubjects(ctx context.Context) ([]database.SubjectSummary, error) {
	rows, err := r.pool.Query(ctx, subjectSummaryQuery+" GROUP BY subject_id ORDER BY subject_id")
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []database.SubjectSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

// Count returns the total number of faces stored.
func (r *FaceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subject_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// CountSubjects returns the number of distinct enrolled subjects.
func (r *FaceRepository) CountSubjects(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(DISTINCT subject_id) FROM subject_faces").Scan(&count); err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return count, nil
}

// Stats returns store-wide counters.
func (r *FaceRepository) Stats(ctx context.Context) (database.Stats, error) {
	faces, err := r.Count(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	subjects, err := r.CountSubjects(ctx)
	if err != nil {
		return database.Stats{}, err
	}
	return database.Stats{
		Faces:       faces,
		Subjects:    subjects,
		HNSWEnabled: r.IsHNSWEnabled(),
		HNSWCount:   r.HNSWCount(),
		Backend:     backendName,
	}, nil
}

// Ping verifies the database is reachable.
func (r *FaceRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (r *FaceRepository) Close() error {
	return r.pool.Close()
}

// faceStats returns the count and newest created_at used to validate a cached index.
func (r *FaceRepository) faceStats(ctx context.Context) (int64, time.Time, error) {
	var count int64
	var latest sql.NullTime
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), MAX(created_at) FROM subject_faces").Scan(&count, &latest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get face stats: %w", err)
	}
	return count, latest.Time, nil
}

// tryLoadFaceIndex attempts to load a fresh face HNSW index from disk.
func (r *FaceRepository) tryLoadFaceIndex(indexPath string, dbFaceCount int64, dbLatest time.Time) bool {
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		r.logger.Info("face index metadata unavailable, rebuilding", zap.Error(err))
		return false
	}
	if !metadata.Fresh(dbFaceCount, dbLatest) {
		r.logger.Info("face index stale, rebuilding",
			zap.Int64("db_count", dbFaceCount),
			zap.Int64("cached_count", metadata.FaceCount),
			zap.Time("db_latest", dbLatest),
			zap.Time("cached_latest", metadata.LatestCreatedAt),
		)
		return false
	}

	idx := database.NewHNSWIndex()
	if err := idx.LoadWithFaceMetadata(indexPath); err != nil {
		r.logger.Warn("failed to load face index, rebuilding", zap.Error(err))
		return false
	}
	if idx.IsEmpty() {
		return false
	}
	r.hnswIndex = idx
	r.logger.Info("face index loaded from disk", zap.Int("faces", idx.Count()))
	return true
}

// EnableHNSW loads or builds the in-memory HNSW index. If indexPath is set it
// tries the saved index first and saves after building.
func (r *FaceRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	dbFaceCount, dbLatest, err := r.faceStats(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" && dbFaceCount > 0 && r.tryLoadFaceIndex(indexPath, dbFaceCount, dbLatest) {
		r.hnswEnabled = true
		return nil
	}

	faces, err := r.GetAllFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	idx := database.NewHNSWIndex()
	if err := idx.BuildFromFaces(faces); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.logger.Info("face index built", zap.Int("faces", len(faces)))

	if indexPath != "" && len(faces) > 0 {
		metadata := database.HNSWIndexMetadata{FaceCount: dbFaceCount, LatestCreatedAt: dbLatest}
		if err := idx.SaveWithFaceMetadata(indexPath, metadata); err != nil {
			r.logger.Warn("failed to save HNSW index to disk", zap.Error(err))
		}
	}
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *FaceRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *FaceRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of faces in the HNSW index.
func (r *FaceRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *FaceRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()

	if indexPath != "" {
		// Drop the cached files so EnableHNSW builds from the table.
		if err := database.NewHNSWIndex().SaveWithFaceMetadata(indexPath, database.HNSWIndexMetadata{}); err != nil {
			return fmt.Errorf("clearing saved index: %w", err)
		}
	}
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *FaceRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	faceCount, latest, err := r.faceStats(context.Background())
	if err != nil {
		return err
	}

	metadata := database.HNSWIndexMetadata{FaceCount: faceCount, LatestCreatedAt: latest}
	if err := r.hnswIndex.SaveWithFaceMetadata(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW face index: %w", err)
	}
	r.logger.Info("face index saved",
		zap.String("path", r.hnswIndexPath),
		zap.Int64("faces", faceCount),
	)
	return nil
}

// Verify interface compliance.
var _ database.FaceStore = (*FaceRepository)(nil)
