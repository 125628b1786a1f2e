package pipeline

import (
	"log/slog"
	"sync"
)

// Lifecycle event names published by a [Session]. Each name has exactly one
// payload shape; consumers switch on Name and read the documented fields.
const (
	// EventParticipantJoined fires when the first participant's audio becomes
	// available. Payload: Participant.
	EventParticipantJoined = "participant joined"

	// EventInputTranscribed fires after a successful transcription.
	// Payload: Participant, Text.
	EventInputTranscribed = "input transcribed"

	// EventResponseGenerated fires after the language model produced a reply.
	// Payload: Participant, Text.
	EventResponseGenerated = "response generated"

	// EventSpeechCommitted fires once synthesized audio has been handed to
	// the room for playback. Payload: Participant, Text.
	EventSpeechCommitted = "speech committed"

	// EventTurnAborted fires when a turn was dropped on a stage failure.
	// Payload: Stage, Err.
	EventTurnAborted = "turn aborted"

	// EventClosed fires exactly once, after the session released all
	// provider handles. No payload beyond SessionID.
	EventClosed = "closed"
)

// Event is the single payload shape delivered to listeners.
type Event struct {
	Name        string
	SessionID   string
	Participant string
	Text        string
	Stage       string
	Err         error
}

// Listener receives lifecycle events. Listeners run synchronously on the
// session goroutine and should return quickly.
type Listener func(Event)

// broadcaster owns the listener list and isolates listener panics so a buggy
// consumer cannot abort the pipeline.
type broadcaster struct {
	mu        sync.Mutex
	listeners []Listener
	log       *slog.Logger
}

func (b *broadcaster) subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		b.dispatch(l, ev)
	}
}

func (b *broadcaster) dispatch(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked",
				"event", ev.Name,
				"session_id", ev.SessionID,
				"panic", r)
		}
	}()
	l(ev)
}
