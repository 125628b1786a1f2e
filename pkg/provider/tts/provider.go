// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service and returns audio as a
// stream of encoded chunks so playback can begin before synthesis finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceParams describes how a reply should sound. Rate, Volume, and Pitch
// use the signed-percentage notation of the synthesis service ("+10%",
// "-5%", "+2Hz"); empty strings mean service defaults.
type VoiceParams struct {
	// Voice is the service-specific voice identifier
	// (e.g., "zh-CN-XiaoyiNeural").
	Voice string

	// Rate adjusts the speaking rate (e.g., "+10%").
	Rate string

	// Volume adjusts loudness (e.g., "-5%").
	Volume string

	// Pitch adjusts pitch (e.g., "+2Hz").
	Pitch string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into speech and returns a channel emitting
	// encoded audio chunks as they arrive. The channel is closed by the
	// implementation when synthesis completes or ctx is cancelled; callers
	// must drain it. A non-nil error is returned only when synthesis cannot
	// be started at all.
	Synthesize(ctx context.Context, text string, params VoiceParams) (<-chan []byte, error)
}
