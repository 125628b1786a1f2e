// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The content
// search layer uses these vectors for semantic lookup of music and story
// items in the pgvector-backed catalogue.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider instance share the same
// dimensionality (Dimensions). Vectors from different providers must not be
// mixed in a single similarity computation.
type Provider interface {
	// Embed computes the embedding vector for text. Returns a float32 slice
	// of length Dimensions() or an error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int
}
