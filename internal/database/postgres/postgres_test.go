//go:build integration

package postgres

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
)

const testDim = 512

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg, nil)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

// axis returns a unit vector along dimension i, slightly tilted by tilt.
func axis(i int, tilt float32) []float32 {
	v := make([]float32, testDim)
	v[i] = 1
	v[(i+1)%testDim] = tilt
	return v
}

func faces(vecs ...[]float32) []database.StoredFace {
	out := make([]database.StoredFace, len(vecs))
	for i, v := range vecs {
		out[i] = database.StoredFace{Embedding: v, BBox: []float64{0, 0, 10, 10}, DetScore: 0.9}
	}
	return out
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_subject_faces.sql" {
		t.Errorf("unexpected migrations: %v", applied)
	}
}

func TestFaceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	for _, withHNSW := range []bool{false, true} {
		name := "pgvector"
		if withHNSW {
			name = "hnsw"
		}
		t.Run(name, func(t *testing.T) {
			if _, err := pool.Exec(ctx, "TRUNCATE subject_faces"); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			repo := NewFaceRepository(pool, testDim)
			if withHNSW {
				if err := repo.EnableHNSW(ctx, ""); err != nil {
					t.Fatalf("EnableHNSW: %v", err)
				}
			}
			runRepositoryScenario(t, repo)
		})
	}
}

func runRepositoryScenario(t *testing.T, repo *FaceRepository) {
	ctx := context.Background()

	n, err := repo.UpsertSubject(ctx, "alice", faces(axis(0, 0), axis(0, 0.1), axis(0, 0.2)))
	if err != nil || n != 3 {
		t.Fatalf("UpsertSubject(alice) = %d, %v", n, err)
	}
	if _, err := repo.UpsertSubject(ctx, "bob", faces(axis(1, 0), axis(1, 0.1))); err != nil {
		t.Fatalf("UpsertSubject(bob): %v", err)
	}

	cands, err := repo.QueryNearest(ctx, axis(0, 0), 2)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].SubjectID != "alice" || cands[0].Distance > 1e-4 {
		t.Errorf("expected alice at distance 0 first, got %+v", cands[0])
	}

	// Re-enrollment replaces the previous set.
	if _, err := repo.UpsertSubject(ctx, "alice", faces(axis(2, 0))); err != nil {
		t.Fatalf("re-enroll alice: %v", err)
	}
	aliceFaces, err := repo.GetSubjectFaces(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSubjectFaces: %v", err)
	}
	if len(aliceFaces) != 1 {
		t.Fatalf("expected 1 face after replace, got %d", len(aliceFaces))
	}
	cands, err = repo.QueryNearest(ctx, axis(0, 0), 10)
	if err != nil {
		t.Fatalf("QueryNearest after replace: %v", err)
	}
	if len(cands) != 3 {
		t.Errorf("expected 3 live faces, got %d", len(cands))
	}
	for _, c := range cands {
		if c.SubjectID == "alice" && c.Distance < 0.5 {
			t.Errorf("stale alice face returned: %+v", c)
		}
	}

	// Invalid embeddings leave the existing set intact.
	if _, err := repo.UpsertSubject(ctx, "bob", faces(make([]float32, testDim))); err == nil {
		t.Error("expected zero vector to be rejected")
	}
	if count, _ := repo.Count(ctx); count != 3 {
		t.Errorf("expected 3 faces after rejected write, got %d", count)
	}

	subjects, err := repo.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	if len(subjects) != 2 || subjects[0].SubjectID != "alice" || subjects[1].Embeddings != 2 {
		t.Errorf("unexpected subjects: %+v", subjects)
	}

	missing, err := repo.GetSubject(ctx, "carol")
	if err != nil || missing != nil {
		t.Errorf("GetSubject(carol) = %+v, %v; want nil, nil", missing, err)
	}

	deleted, err := repo.DeleteSubject(ctx, "bob")
	if err != nil || deleted != 2 {
		t.Errorf("DeleteSubject(bob) = %d, %v", deleted, err)
	}
	deleted, err = repo.DeleteSubject(ctx, "bob")
	if err != nil || deleted != 0 {
		t.Errorf("second DeleteSubject(bob) = %d, %v", deleted, err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Faces != 1 || stats.Subjects != 1 || stats.Backend != "postgres" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFaceRepository_IndexPersistence(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	indexPath := filepath.Join(t.TempDir(), "faces.hnsw")

	repo := NewFaceRepository(pool, testDim)
	if err := repo.EnableHNSW(ctx, indexPath); err != nil {
		t.Fatalf("EnableHNSW: %v", err)
	}
	if _, err := repo.UpsertSubject(ctx, "alice", faces(axis(0, 0), axis(0, 0.1))); err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}
	if err := repo.SaveHNSWIndex(); err != nil {
		t.Fatalf("SaveHNSWIndex: %v", err)
	}

	meta, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata: %v", err)
	}
	if meta.FaceCount != 2 {
		t.Errorf("expected 2 faces in metadata, got %d", meta.FaceCount)
	}

	reopened := NewFaceRepository(pool, testDim)
	if err := reopened.EnableHNSW(ctx, indexPath); err != nil {
		t.Fatalf("EnableHNSW from disk: %v", err)
	}
	if reopened.HNSWCount() != 2 {
		t.Errorf("expected 2 faces after reload, got %d", reopened.HNSWCount())
	}

	if err := reopened.RebuildHNSW(ctx); err != nil {
		t.Fatalf("RebuildHNSW: %v", err)
	}
	if reopened.HNSWCount() != 2 {
		t.Errorf("expected 2 faces after rebuild, got %d", reopened.HNSWCount())
	}
}
