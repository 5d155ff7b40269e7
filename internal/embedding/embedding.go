// Package embedding provides the client side of the external embedding
// service plus vector similarity helpers. The engine holds no opinion on
// model choice; anything that yields fixed-length vectors comparable by
// cosine similarity will do.
package embedding

import (
	"context"
	"math"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// or zero vectors yield 0.
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
