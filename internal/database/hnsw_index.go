package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	FaceCount       int64     `json:"face_count"`
	LatestCreatedAt time.Time `json:"latest_created_at"`
	BuildTime       time.Time `json:"build_time"`
	Version         int       `json:"version"`
}

// Fresh reports whether the cached index was saved from a store in the given state.
func (m HNSWIndexMetadata) Fresh(faceCount int64, latest time.Time) bool {
	return m.Version == hnswMetadataVersion &&
		m.FaceCount == faceCount &&
		m.LatestCreatedAt.Equal(latest)
}

const hnswMetadataVersion = 2

// HNSWIndex wraps the HNSW graph for face embedding search.
// Deletes are soft: the face is removed from idToFace and its node stays in the
// graph until tombstones outnumber live faces, at which point the graph is rebuilt.
type HNSWIndex struct {
	graph      *hnsw.Graph[string]
	idToFace   map[string]*StoredFace
	tombstones int
	mu         sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToFace: make(map[string]*StoredFace),
	}
}

func newFaceGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromFaces builds the index from a slice of faces.
func (h *HNSWIndex) BuildFromFaces(faces []StoredFace) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buildLocked(faces)
	return nil
}

func (h *HNSWIndex) buildLocked(faces []StoredFace) {
	h.tombstones = 0
	h.idToFace = make(map[string]*StoredFace, len(faces))
	if len(faces) == 0 {
		h.graph = nil
		return
	}

	g := newFaceGraph()
	for i := range faces {
		face := faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.ID, face.Embedding))
		h.idToFace[face.ID] = &face
	}
	h.graph = g
}

// Search finds the k nearest graph nodes to the query embedding, including
// soft-deleted ones. Returns face IDs and their distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.searchLocked(query, k)
}

func (h *HNSWIndex) searchLocked(query []float32, k int) ([]string, []float64, error) {
	if h.graph == nil {
		return nil, nil, ErrIndexNotInitialized
	}

	neighbors := h.graph.Search(query, k)
	ids := make([]string, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		// Recompute in float64 from the node vector.
		distances[i] = CosineDistance(query, n.Value)
	}
	return ids, distances, nil
}

// Nearest returns up to k live faces nearest to query, ordered by distance.
// The graph is over-fetched so that soft-deleted nodes do not starve the result.
func (h *HNSWIndex) Nearest(query []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.idToFace) == 0 {
		return nil, nil
	}

	searchK := max(k*HNSWSearchMultiplier, HNSWMinSearchK)
	ids, distances, err := h.searchLocked(query, searchK)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, min(k, len(ids)))
	for i, id := range ids {
		face, ok := h.idToFace[id]
		if !ok {
			continue
		}
		out = append(out, Candidate{FaceID: id, SubjectID: face.SubjectID, Distance: distances[i]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GetFace returns the face for a given ID.
func (h *HNSWIndex) GetFace(id string) *StoredFace {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToFace[id]
}

// Add adds a single face to the index.
func (h *HNSWIndex) Add(face *StoredFace) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(face)
	return nil
}

func (h *HNSWIndex) addLocked(face *StoredFace) {
	if len(face.Embedding) == 0 {
		return
	}
	if _, ok := h.idToFace[face.ID]; ok {
		return
	}
	if h.graph == nil {
		h.graph = newFaceGraph()
	}
	f := *face
	h.graph.Add(hnsw.MakeNode(f.ID, f.Embedding))
	h.idToFace[f.ID] = &f
}

// Delete removes a face from the index (marks as deleted).
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleteLocked(id)
	h.compactLocked()
}

func (h *HNSWIndex) deleteLocked(id string) {
	if _, ok := h.idToFace[id]; !ok {
		return
	}
	delete(h.idToFace, id)
	h.tombstones++
}

// Replace removes oldIDs and adds faces under a single write lock, so
// concurrent searches see either the old set or the new one.
func (h *HNSWIndex) Replace(oldIDs []string, faces []StoredFace) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range oldIDs {
		h.deleteLocked(id)
	}
	for i := range faces {
		h.addLocked(&faces[i])
	}
	h.compactLocked()
}

// compactLocked rebuilds the graph once deleted nodes outnumber live ones.
func (h *HNSWIndex) compactLocked() {
	if h.tombstones == 0 || h.tombstones <= len(h.idToFace) {
		return
	}
	faces := make([]StoredFace, 0, len(h.idToFace))
	for _, f := range h.idToFace {
		faces = append(faces, *f)
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	h.buildLocked(faces)
}

// Count returns the number of live faces in the index.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToFace)
}

// Tombstones returns the number of soft-deleted nodes still in the graph.
func (h *HNSWIndex) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tombstones
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// SaveFaceMetadata saves face metadata to a .faces file for fast loading at startup.
func SaveFaceMetadata(path string, faces []StoredFace) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(faces); err != nil {
		return fmt.Errorf("failed to encode faces: %w", err)
	}

	if err := os.WriteFile(path+".faces", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write faces file: %w", err)
	}

	return nil
}

// LoadFaceMetadata loads face metadata from a .faces file.
func LoadFaceMetadata(path string) ([]StoredFace, error) {
	data, err := os.ReadFile(path + ".faces") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read faces file: %w", err)
	}

	var faces []StoredFace
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&faces); err != nil {
		return nil, fmt.Errorf("failed to decode faces: %w", err)
	}

	return faces, nil
}

// LoadWithFaceMetadata loads both the HNSW graph and face metadata from disk.
func (h *HNSWIndex) LoadWithFaceMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	faces, err := LoadFaceMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load face metadata: %w", err)
	}

	h.graph = saved.Graph
	h.idToFace = make(map[string]*StoredFace, len(faces))
	for i := range faces {
		h.idToFace[faces[i].ID] = &faces[i]
	}
	h.tombstones = max(0, h.graph.Len()-len(h.idToFace))

	return nil
}

// SaveWithFaceMetadata persists the graph, a .meta staleness file and a .faces
// file next to path. An empty index removes any previously saved files.
func (h *HNSWIndex) SaveWithFaceMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".faces")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now().UTC()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	faces := make([]StoredFace, 0, len(h.idToFace))
	for _, face := range h.idToFace {
		faces = append(faces, *face)
	}
	if err := SaveFaceMetadata(path, faces); err != nil {
		return fmt.Errorf("failed to save face metadata: %w", err)
	}

	return nil
}
