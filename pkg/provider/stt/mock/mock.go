// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
)

// Provider is a mock stt.Provider. Configure Result/Err before use, or set
// TranscribeFunc for full control. Calls are recorded and can be inspected
// via Calls.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result string

	// Err is returned by Transcribe when TranscribeFunc is nil.
	Err error

	// TranscribeFunc, when non-nil, replaces the default behaviour.
	TranscribeFunc func(ctx context.Context, audio io.Reader, cfg stt.Config) (string, error)

	calls []stt.Config
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, cfg stt.Config) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, cfg)
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, cfg)
	}
	// Drain the segment like a real provider would.
	_, _ = io.Copy(io.Discard, audio)
	return res, err
}

// Calls returns a copy of the configs passed to Transcribe, in order.
func (p *Provider) Calls() []stt.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Config, len(p.calls))
	copy(out, p.calls)
	return out
}
