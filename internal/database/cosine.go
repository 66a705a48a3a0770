package database

import (
	"errors"
	"math"
)

// UnitNormTolerance is how far ‖v‖₂ may drift from 1 before the write path renormalizes.
const UnitNormTolerance = 1e-4

// ErrZeroVector is returned when a vector with zero magnitude is normalized.
var ErrZeroVector = errors.New("zero vector cannot be normalized")

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}

// Norm returns the L2 norm of v, accumulated in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. The division happens in float64
// and the result is cast back to float32.
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// IsUnit reports whether ‖v‖₂ is within eps of 1.
func IsUnit(v []float32, eps float64) bool {
	return math.Abs(Norm(v)-1) <= eps
}

// EnsureUnit returns v unchanged when it is already unit length, otherwise a
// renormalized copy. Zero vectors are rejected.
func EnsureUnit(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrZeroVector
	}
	if IsUnit(v, UnitNormTolerance) {
		return v, nil
	}
	return Normalize(v)
}
