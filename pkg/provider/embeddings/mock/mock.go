// Package mock provides a deterministic test double for embeddings.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/embeddings"
)

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock embeddings provider. Vectors are derived from the input
// text so equal texts always embed identically, which keeps similarity maths
// stable in tests.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Defaults to 8 when zero.
	Dim int

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string
}

// Embed returns a deterministic vector for the text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	err := p.EmbedErr
	dim := p.Dim
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return deriveVector(text, dim), nil
}

// EmbedBatch embeds each text via the same derivation as Embed.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns Dim, or 8 when unset.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// ModelID identifies the mock.
func (p *Provider) ModelID() string {
	return "mock-embedder"
}

// deriveVector spreads the text's bytes over the vector positions.
func deriveVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for i, b := range []byte(text) {
		vec[i%dim] += float32(b) / 255
	}
	return vec
}
