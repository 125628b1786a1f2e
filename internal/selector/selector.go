// Package selector decides which speech-to-text backend a session uses.
//
// The decision is made exactly once, synchronously, before the session's
// perception loop starts: probe the primary recognizer's endpoint, and build
// the primary when it is reachable, otherwise build the fallback. A primary
// whose construction fails also falls through to the fallback; the choice is
// never revisited mid-session even if the chosen backend later fails.
package selector

import (
	"fmt"
	"log/slog"

	"github.com/k811069/Bunny-serve-sub001/internal/probe"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
)

// Kind tags which branch of the selection produced the active provider.
type Kind int

const (
	// KindPrimary means the network-hosted recognizer was chosen.
	KindPrimary Kind = iota

	// KindFallback means the API-hosted recognizer was chosen.
	KindFallback
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Factory constructs an STT provider. Factories are supplied by the caller so
// that selection stays independent of concrete backend packages.
type Factory func() (stt.Provider, error)

// Choice is the immutable outcome of one selection. Exactly one Choice exists
// per session.
type Choice struct {
	Kind     Kind
	Provider stt.Provider
}

// Selector probes the primary endpoint and picks a backend.
type Selector struct {
	endpoint probe.Endpoint
	log      *slog.Logger

	// probeFn is swappable for tests; defaults to probe.Probe.
	probeFn func(probe.Endpoint) probe.Result
}

// New creates a Selector for the given primary endpoint.
func New(endpoint probe.Endpoint, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		endpoint: endpoint,
		log:      log,
		probeFn:  probe.Probe,
	}
}

// Select probes the primary endpoint and returns the chosen provider.
//
// When the endpoint is reachable the primary factory is used; if it fails the
// failure is logged at warning level and the fallback factory is used instead.
// When the endpoint is unreachable the fallback factory is used directly.
// Select returns an error only when both factories fail.
func (s *Selector) Select(primary, fallback Factory) (Choice, error) {
	res := s.probeFn(s.endpoint)

	if res.Ok() {
		p, err := primary()
		if err == nil {
			s.log.Info("selected primary speech recognizer",
				"endpoint", s.endpoint.Addr(),
				"probe_elapsed", res.Elapsed)
			return Choice{Kind: KindPrimary, Provider: p}, nil
		}
		s.log.Warn("primary speech recognizer construction failed, using fallback",
			"endpoint", s.endpoint.Addr(),
			"error", err)
	} else {
		s.log.Warn("primary speech recognizer unreachable, using fallback",
			"endpoint", s.endpoint.Addr(),
			"status", res.Status.String(),
			"error", res.Err)
	}

	p, err := fallback()
	if err != nil {
		return Choice{}, fmt.Errorf("selector: both recognizers unavailable: %w", err)
	}
	s.log.Info("selected fallback speech recognizer")
	return Choice{Kind: KindFallback, Provider: p}, nil
}
