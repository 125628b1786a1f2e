// Package room defines the interfaces and types for voice-room connectivity.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice room and returns a [Connection].
//   - [Connection] — represents an active session in that room, giving callers
//     per-participant input streams, a playback sink, and lifecycle events.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages. The interfaces are intentionally narrow to keep the
// pipeline orchestrator decoupled from transport details.
//
// This package lives under pkg/ because external code (third-party room
// adapters) is expected to implement [Platform] and [Connection].
package room

import (
	"context"
	"time"
)

// Frame is a single frame of PCM audio flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from room input
// streams, segmented by VAD, and produced back into the room as playback.
type Frame struct {
	// Data holds little-endian 16-bit PCM samples.
	Data []byte

	// SampleRate in Hz (e.g. 48000 for room transport, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change in a voice room.
// Callbacks registered via [Connection.OnParticipantChange] receive values
// of this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// Connection represents an active session in a voice room.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Close] is called. All channels returned by Connection
// methods are closed automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the platform-specific participant ID; the value
	// is a read-only channel that delivers [Frame] values as they arrive from
	// that participant. A new entry appears for each joining participant and
	// is removed (channel closed) when that participant leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin]
	// event to pick up newly added channels.
	InputStreams() map[string]<-chan Frame

	// Play streams synthesized audio chunks into the room. It consumes the
	// channel until it is closed or ctx is cancelled, and returns once the
	// last consumed chunk has been handed to the transport. Chunks carry
	// encoded audio in the format negotiated by the platform adapter.
	Play(ctx context.Context, chunks <-chan []byte) error

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves the room. Only one callback may be
	// registered at a time; subsequent calls replace the previous
	// registration. The callback is invoked on an internal goroutine and
	// must not block.
	OnParticipantChange(cb func(Event))

	// Close cleanly tears down the connection, drains pending frames, and
	// closes all input channels. It is safe to call Close more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// Platform is the entry point for a voice-room provider.
// Implementations wrap provider-specific SDKs and expose a uniform
// [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice room identified by roomID and returns an active
	// [Connection]. The supplied ctx governs the lifetime of the connection
	// attempt only; once connected, the Connection remains alive until
	// [Connection.Close] is called explicitly.
	Connect(ctx context.Context, roomID string) (Connection, error)
}
