// Package vector provides the similarity math shared by clustering,
// snapshot matching and the self-similarity guard.
package vector

import "math"

// Cosine calculates cosine similarity between two vectors, in [-1, 1].
// Mismatched dimensions or a zero vector yield 0 (nothing is similar to
// a degenerate embedding).
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RunningMean folds one new vector into a centroid that currently averages
// count members: (centroid*count + v) / (count+1). Returns a fresh slice.
func RunningMean(centroid []float32, count int, v []float32) []float32 {
	out := make([]float32, len(centroid))
	n := float64(count)
	for i := range centroid {
		out[i] = float32((float64(centroid[i])*n + float64(v[i])) / (n + 1))
	}
	return out
}
