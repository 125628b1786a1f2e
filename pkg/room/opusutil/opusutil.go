// Package opusutil provides Opus decode helpers for room transports that
// deliver compressed voice packets. Room adapters decode each participant's
// Opus stream into PCM frames before handing them to the pipeline.
package opusutil

import (
	"fmt"

	"layeh.com/gopus"
)

// Room voice transports use 48 kHz stereo Opus at 20 ms frame size.
const (
	SampleRate  = 48000
	Channels    = 2
	frameSizeMs = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = SampleRate * frameSizeMs / 1000 // 960
)

// Decoder wraps a gopus Opus decoder for a single participant stream.
// Each participant gets its own Decoder to maintain decoder state correctly
// across consecutive frames. A Decoder is not safe for concurrent use.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a new Opus decoder configured for room audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opusutil: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes an Opus packet into interleaved PCM int16 samples and
// returns the result as little-endian bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opusutil: decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// StereoToMono averages interleaved stereo samples into a mono stream.
// STT providers expect mono input while room transports deliver stereo.
func StereoToMono(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return mono
}

// Downsample reduces the sample rate of mono PCM by an integer factor using
// simple decimation. factor must be positive; SampleRate (48 kHz) down to
// 16 kHz uses factor 3.
func Downsample(mono []int16, factor int) []int16 {
	if factor <= 1 {
		return mono
	}
	out := make([]int16, 0, len(mono)/factor+1)
	for i := 0; i < len(mono); i += factor {
		out = append(out, mono[i])
	}
	return out
}
