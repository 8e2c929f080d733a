package pipeline

import "context"

// Embedder maps a batch of texts to fixed-dimension vectors, one per text in
// the same order. Implementations exist per provider and are selected by
// configuration at construction time.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}
