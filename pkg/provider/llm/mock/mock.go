// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/llm"
)

// Provider is a mock llm.Provider. Set Reply/Err, or RespondFunc for full
// control. Conversations passed to Respond are recorded for inspection.
type Provider struct {
	mu sync.Mutex

	Reply string
	Err   error

	// RespondFunc, when non-nil, replaces the default behaviour.
	RespondFunc func(ctx context.Context, conversation []llm.Message) (string, error)

	calls [][]llm.Message
}

var _ llm.Provider = (*Provider)(nil)

// Respond implements llm.Provider.
func (p *Provider) Respond(ctx context.Context, conversation []llm.Message) (string, error) {
	p.mu.Lock()
	cp := make([]llm.Message, len(conversation))
	copy(cp, conversation)
	p.calls = append(p.calls, cp)
	fn := p.RespondFunc
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, conversation)
	}
	return reply, err
}

// Calls returns a copy of all conversations passed to Respond, in order.
func (p *Provider) Calls() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]llm.Message, len(p.calls))
	copy(out, p.calls)
	return out
}
