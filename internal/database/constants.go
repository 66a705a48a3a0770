package database

// Embedding defaults for the InsightFace buffalo_l recognition model.
const (
	// DefaultEmbeddingDim is the length of every stored face embedding.
	DefaultEmbeddingDim = 512

	// DefaultModelName is recorded on faces whose producer did not report a model.
	DefaultModelName = "buffalo_l"
)

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWEfConstruction is used by the pgvector index (see migrations).
	HNSWEfConstruction = 200

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so that enough live nodes remain after dropping deleted ones.
	HNSWSearchMultiplier = 3

	// HNSWMinSearchK is the floor for the over-fetched search size.
	HNSWMinSearchK = 100
)
