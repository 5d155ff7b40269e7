package embedding

import (
	"context"
	"fmt"
)

// Static is an Embedder backed by a fixed map of text to vector.
// Used in tests and offline runs.
type Static struct {
	vectors    map[string][]float32
	dimensions int
}

// NewStatic creates a static embedder. All vectors must share one length.
func NewStatic(vectors map[string][]float32) *Static {
	s := &Static{vectors: vectors}
	for _, v := range vectors {
		s.dimensions = len(v)
		break
	}
	return s
}

// Embed returns the preset vector for the text.
func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no static embedding for %q", text)
	}
	return v, nil
}

// Dimensions returns the vector dimensionality.
func (s *Static) Dimensions() int {
	return s.dimensions
}
