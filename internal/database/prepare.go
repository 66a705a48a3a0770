package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrepareFaces validates faces for a subject replace and fills in the
// store-owned fields: a fresh UUID per face, the subject ID, the batch
// position and the creation time. Vectors that drifted from unit length are
// renormalized here, so no backend ever persists an un-normalized embedding.
// A dim of 0 accepts any length as long as all faces agree.
func PrepareFaces(subjectID string, faces []StoredFace, dim int, now time.Time) ([]StoredFace, error) {
	if subjectID == "" {
		return nil, ErrEmptySubject
	}

	out := make([]StoredFace, len(faces))
	for i := range faces {
		face := faces[i]
		if dim == 0 && i > 0 {
			dim = len(out[0].Embedding)
		}
		if len(face.Embedding) == 0 || (dim > 0 && len(face.Embedding) != dim) {
			return nil, fmt.Errorf("face %d: %w: dimension %d", i, ErrInvalidEmbedding, len(face.Embedding))
		}

		emb, err := EnsureUnit(face.Embedding)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w: %v", i, ErrInvalidEmbedding, err)
		}

		face.ID = uuid.NewString()
		face.SubjectID = subjectID
		face.EmbeddingIndex = i
		face.Embedding = emb
		face.Dim = len(emb)
		if face.Model == "" {
			face.Model = DefaultModelName
		}
		face.CreatedAt = now
		out[i] = face
	}
	return out, nil
}
