// Package vad defines the Detector interface for voice-activity detection.
//
// A VAD detector segments a continuous PCM stream into speech intervals. Each
// audio stream gets its own stateful Session; the session consumes fixed-size
// frames synchronously and emits segment boundary events that drive the
// pipeline's turn handling. On a segment end the session hands back the
// buffered utterance (including prefix padding) ready for transcription.
//
// Detectors are expensive to construct when backed by a model; hold them in
// the worker's prewarm cache and share across sessions. Detector
// implementations must be safe for concurrent NewSession calls; a single
// Session must not be shared between goroutines.
package vad

import "time"

// Config holds the tuning parameters for a VAD session. Zero values select
// the defaults listed on each field.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Default: 16000.
	SampleRate int

	// MinSpeechDuration is the shortest run of speech frames that opens a
	// segment. Shorter bursts are discarded as noise. Default: 200ms.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is the run of silence frames that closes an open
	// segment. Default: 500ms.
	MinSilenceDuration time.Duration

	// ActivationThreshold is the speech probability in [0,1] above which a
	// frame counts as speech. Default: 0.5.
	ActivationThreshold float64

	// PrefixPadding is how much audio preceding the detected speech onset is
	// prepended to the segment, so plosive word starts are not clipped.
	// Default: 300ms.
	PrefixPadding time.Duration

	// MaxBufferedSpeech caps an open segment's length; when reached, the
	// segment is force-closed as if silence had been detected. Default: 60s.
	MaxBufferedSpeech time.Duration
}

// EventType enumerates the session's per-frame outcomes.
type EventType int

const (
	// EventNone means the frame changed nothing observable.
	EventNone EventType = iota

	// EventSegmentStart means a speech segment has opened.
	EventSegmentStart

	// EventSegmentEnd means a speech segment has closed; Event.Segment holds
	// the full utterance PCM.
	EventSegmentEnd
)

// Event is the result of processing a single frame.
type Event struct {
	// Type is the detection outcome.
	Type EventType

	// Probability is the speech probability of the frame, in [0,1].
	Probability float64

	// Segment holds the complete utterance PCM (prefix padding included) on
	// EventSegmentEnd. Nil for all other event types. The slice is owned by
	// the caller after return.
	Segment []byte
}

// Session is an active VAD stream. Not safe for concurrent use.
type Session interface {
	// ProcessFrame analyses one frame of 16-bit little-endian mono PCM and
	// returns the resulting event. Must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset discards all buffered audio and detection state without closing
	// the session.
	Reset()

	// Close releases session resources. Calling Close more than once is safe.
	Close() error
}

// Detector is the factory for VAD sessions.
type Detector interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (Session, error)
}
