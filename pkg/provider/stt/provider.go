// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service: either a network-hosted
// recognizer reachable on a host:port endpoint (see the funasr subpackage) or
// an API-hosted recognizer behind an HTTPS API (see the openai subpackage).
// Both expose the same single-shot shape: a finished speech segment in, a
// transcript out. Segmentation itself is the job of the VAD stage; providers
// receive only complete utterances.
//
// Implementations must be safe for concurrent use. Multiple segments may be
// transcribed in parallel (one per active session).
package stt

import (
	"context"
	"io"
)

// Config carries the recognition hints for a single transcription request.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "zh-CN",
	// "en-US"). An empty string lets the provider auto-detect, if supported.
	Language string

	// ITN enables inverse text normalization: spoken-form tokens ("twenty
	// three") are converted to written form ("23") in the transcript.
	ITN bool

	// SampleRate is the sample rate in Hz of the PCM audio supplied to
	// Transcribe. Common values: 16000 (recognizer-native), 48000 (room
	// Opus decode output). Zero means 16000.
	SampleRate int
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe reads one complete speech segment of 16-bit little-endian
	// mono PCM from audio and returns the recognized text. An empty string
	// with a nil error is a valid result and means the segment contained no
	// recognizable speech.
	//
	// Transcribe must respect ctx cancellation and must not retain audio
	// after returning.
	Transcribe(ctx context.Context, audio io.Reader, cfg Config) (string, error)
}
