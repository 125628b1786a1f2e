// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
)

// Provider is a mock tts.Provider. When Err is nil, Synthesize returns a
// channel that emits Chunks and then closes. Calls records every request.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on the returned audio channel.
	Chunks [][]byte

	// Err, when non-nil, is returned instead of a channel.
	Err error

	calls []Call
}

// Call records one Synthesize invocation.
type Call struct {
	Text   string
	Params tts.VoiceParams
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, params tts.VoiceParams) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, Params: params})
	chunks := p.Chunks
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Calls returns a copy of all recorded invocations, in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
