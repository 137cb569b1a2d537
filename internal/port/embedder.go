package port

import "nemesis/internal/domain"

// Generator produces synthetic unit-length embeddings.
type Generator interface {
	// Random draws a fresh, non-deterministic vector.
	Random() domain.Vector

	// ForTag derives a vector from the tag name alone; equal names give bit-identical vectors.
	ForTag(name string) domain.Vector

	// Dimension returns the embedding vector dimension.
	Dimension() int
}

// TagEmbeddingCache holds tag embeddings, which never change once created.
type TagEmbeddingCache interface {
	Get(name string) (domain.Vector, bool)

	Put(name string, vec domain.Vector)
}
