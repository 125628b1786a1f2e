// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/embeddings"
)

// Provider is a mock embeddings.Provider. Vectors, when set, maps input text
// to a fixed vector; unknown texts get a zero vector of Dims length.
type Provider struct {
	mu sync.Mutex

	// Dims is the reported dimensionality. Defaults to 4 when zero.
	Dims int

	// Vectors maps text to its embedding.
	Vectors map[string][]float32

	// Err, when non-nil, is returned by Embed.
	Err error

	calls []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return make([]float32, p.Dimensions()), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return 4
	}
	return p.Dims
}

// Calls returns all texts passed to Embed, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}
