package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/internal/resilience"
	"github.com/k811069/Bunny-serve-sub001/internal/selector"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
)

// guardedSTT wraps the selected primary recognizer in a circuit breaker.
// Each failed transcription counts against the breaker; once it opens,
// segments go straight to a lazily built fallback provider until the reset
// timeout elapses and a probe call succeeds again. The per-session selector
// handles a recognizer that is down at session start; this handles one that
// dies mid-session.
type guardedSTT struct {
	breaker     *resilience.Breaker
	primary     stt.Provider
	newFallback selector.Factory
	log         *slog.Logger

	mu       sync.Mutex
	fallback stt.Provider
}

var _ stt.Provider = (*guardedSTT)(nil)

func newGuardedSTT(primary stt.Provider, newFallback selector.Factory, log *slog.Logger) *guardedSTT {
	return &guardedSTT{
		breaker:     resilience.NewBreaker(resilience.BreakerConfig{Name: "stt-primary"}),
		primary:     primary,
		newFallback: newFallback,
		log:         log,
	}
}

// Transcribe implements stt.Provider. The segment is buffered up front so it
// can be replayed against the fallback when the primary attempt fails.
func (g *guardedSTT) Transcribe(ctx context.Context, audio io.Reader, cfg stt.Config) (string, error) {
	pcm, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("worker: read segment: %w", err)
	}

	var text string
	err = g.breaker.Do(func() error {
		var terr error
		text, terr = g.primary.Transcribe(ctx, bytes.NewReader(pcm), cfg)
		return terr
	})
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	fb, fbErr := g.fallbackProvider()
	if fbErr != nil {
		g.log.Warn("fallback recognizer unavailable", "error", fbErr)
		return "", err
	}
	g.log.Warn("primary recognizer failed, retrying segment on fallback", "error", err)
	return fb.Transcribe(ctx, bytes.NewReader(pcm), cfg)
}

// fallbackProvider builds the fallback once and reuses it for the rest of
// the wrapper's lifetime.
func (g *guardedSTT) fallbackProvider() (stt.Provider, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fallback == nil {
		fb, err := g.newFallback()
		if err != nil {
			return nil, err
		}
		g.fallback = fb
	}
	return g.fallback, nil
}
