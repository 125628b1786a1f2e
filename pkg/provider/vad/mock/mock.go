// Package mock provides a scriptable vad.Detector for tests.
package mock

import (
	"errors"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
)

// Detector is a mock vad.Detector whose sessions replay a scripted sequence
// of events, one per ProcessFrame call. After the script is exhausted the
// session returns EventNone.
type Detector struct {
	mu sync.Mutex

	// Script is the sequence of events replayed by each new session.
	Script []vad.Event

	// NewSessionErr, when non-nil, is returned by NewSession.
	NewSessionErr error

	sessions int
}

var _ vad.Detector = (*Detector)(nil)

// NewSession implements vad.Detector.
func (d *Detector) NewSession(cfg vad.Config) (vad.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewSessionErr != nil {
		return nil, d.NewSessionErr
	}
	d.sessions++
	script := make([]vad.Event, len(d.Script))
	copy(script, d.Script)
	return &Session{script: script}, nil
}

// Sessions returns how many sessions have been created.
func (d *Detector) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions
}

// Session replays a scripted event sequence.
type Session struct {
	mu     sync.Mutex
	script []vad.Event
	pos    int
	closed bool
}

var _ vad.Session = (*Session)(nil)

// ProcessFrame implements vad.Session by returning the next scripted event.
func (s *Session) ProcessFrame(_ []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errors.New("mock vad: session is closed")
	}
	if s.pos >= len(s.script) {
		return vad.Event{Type: vad.EventNone}, nil
	}
	ev := s.script[s.pos]
	s.pos++
	return ev, nil
}

// Reset implements vad.Session by rewinding the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
}

// Close implements vad.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
