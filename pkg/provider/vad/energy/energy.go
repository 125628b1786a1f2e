// Package energy provides a dependency-free vad.Detector based on short-term
// RMS energy with hysteresis. It is not a neural detector, but with tuned
// thresholds it segments clean close-mic audio well enough to gate STT, and
// it loads instantly, so it is the detector held in the prewarm
// cache by default.
package energy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
)

const (
	defaultSampleRate = 16000

	defaultMinSpeech  = 200 * time.Millisecond
	defaultMinSilence = 500 * time.Millisecond
	defaultThreshold  = 0.5
	defaultPadding    = 300 * time.Millisecond
	defaultMaxSpeech  = 60 * time.Second

	// rmsFullScale maps RMS energy to a pseudo-probability: an RMS at or
	// above this fraction of int16 full scale saturates to probability 1.0.
	rmsFullScale = 4000.0
)

// Detector implements vad.Detector.
type Detector struct{}

var _ vad.Detector = (*Detector)(nil)

// New creates an energy Detector. The detector itself is stateless; all
// per-stream state lives in sessions.
func New() *Detector {
	return &Detector{}
}

// NewSession implements vad.Detector.
func (d *Detector) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = withDefaults(cfg)
	if cfg.ActivationThreshold < 0 || cfg.ActivationThreshold > 1 {
		return nil, fmt.Errorf("energy: activation threshold %.2f out of range [0,1]", cfg.ActivationThreshold)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d must be positive", cfg.SampleRate)
	}
	return &session{
		cfg:          cfg,
		bytesPerSec:  cfg.SampleRate * 2, // 16-bit mono
		maxPadBytes:  durationBytes(cfg.PrefixPadding, cfg.SampleRate),
		maxSegBytes:  durationBytes(cfg.MaxBufferedSpeech, cfg.SampleRate),
		minSpeechB:   durationBytes(cfg.MinSpeechDuration, cfg.SampleRate),
		minSilenceB:  durationBytes(cfg.MinSilenceDuration, cfg.SampleRate),
	}, nil
}

// withDefaults fills zero-valued config fields.
func withDefaults(cfg vad.Config) vad.Config {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = defaultMinSpeech
	}
	if cfg.MinSilenceDuration == 0 {
		cfg.MinSilenceDuration = defaultMinSilence
	}
	if cfg.ActivationThreshold == 0 {
		cfg.ActivationThreshold = defaultThreshold
	}
	if cfg.PrefixPadding == 0 {
		cfg.PrefixPadding = defaultPadding
	}
	if cfg.MaxBufferedSpeech == 0 {
		cfg.MaxBufferedSpeech = defaultMaxSpeech
	}
	return cfg
}

// durationBytes converts a duration to a byte count of 16-bit mono PCM.
func durationBytes(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate) * 2)
}

// session implements vad.Session. Not safe for concurrent use.
type session struct {
	cfg         vad.Config
	bytesPerSec int
	maxPadBytes int
	maxSegBytes int
	minSpeechB  int
	minSilenceB int

	padding   []byte // ring of the most recent non-speech audio
	segment   []byte // buffered audio of the open segment
	inSpeech  bool   // a segment is open (past MinSpeechDuration)
	speechRun int    // consecutive speech bytes while not yet open
	silentRun int    // consecutive silence bytes inside an open segment
	closed    bool
}

var errClosed = errors.New("energy: session is closed")

// ProcessFrame implements vad.Session.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) == 0 || len(frame)%2 != 0 {
		return vad.Event{}, fmt.Errorf("energy: frame length %d is not a positive multiple of 2", len(frame))
	}

	prob := speechProbability(frame)
	speech := prob >= s.cfg.ActivationThreshold

	if !s.inSpeech {
		return s.processIdle(frame, prob, speech), nil
	}
	return s.processOpen(frame, prob, speech), nil
}

// processIdle handles frames while no segment is open.
func (s *session) processIdle(frame []byte, prob float64, speech bool) vad.Event {
	if !speech {
		// A burst that died before MinSpeechDuration is not speech. Fold
		// its bytes into the padding ring so they stay in order if a real
		// onset follows, instead of accumulating in the segment buffer.
		if len(s.segment) > 0 {
			s.appendPadding(s.segment)
			s.segment = nil
		}
		s.speechRun = 0
		s.appendPadding(frame)
		return vad.Event{Type: vad.EventNone, Probability: prob}
	}

	s.speechRun += len(frame)
	s.segment = append(s.segment, frame...)
	if s.speechRun < s.minSpeechB {
		return vad.Event{Type: vad.EventNone, Probability: prob}
	}

	// Open the segment: prepend the padding captured before onset.
	s.inSpeech = true
	s.speechRun = 0
	s.segment = append(append([]byte{}, s.padding...), s.segment...)
	s.padding = s.padding[:0]
	return vad.Event{Type: vad.EventSegmentStart, Probability: prob}
}

// processOpen handles frames while a segment is open.
func (s *session) processOpen(frame []byte, prob float64, speech bool) vad.Event {
	s.segment = append(s.segment, frame...)
	if speech {
		s.silentRun = 0
	} else {
		s.silentRun += len(frame)
	}

	if s.silentRun >= s.minSilenceB || len(s.segment) >= s.maxSegBytes {
		seg := s.segment
		s.resetSegmentState()
		return vad.Event{Type: vad.EventSegmentEnd, Probability: prob, Segment: seg}
	}
	return vad.Event{Type: vad.EventNone, Probability: prob}
}

// appendPadding keeps the padding ring at most maxPadBytes long.
func (s *session) appendPadding(frame []byte) {
	s.padding = append(s.padding, frame...)
	if over := len(s.padding) - s.maxPadBytes; over > 0 {
		s.padding = s.padding[over:]
	}
}

// resetSegmentState clears per-segment state after a segment closes.
func (s *session) resetSegmentState() {
	s.segment = nil
	s.inSpeech = false
	s.speechRun = 0
	s.silentRun = 0
}

// Reset implements vad.Session.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.resetSegmentState()
	s.padding = s.padding[:0]
}

// Close implements vad.Session.
func (s *session) Close() error {
	s.closed = true
	s.resetSegmentState()
	s.padding = nil
	return nil
}

// speechProbability maps the frame's RMS energy onto [0,1].
func speechProbability(frame []byte) float64 {
	var sum float64
	n := len(frame) / 2
	for i := 0; i < len(frame); i += 2 {
		sample := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(n))
	p := rms / rmsFullScale
	if p > 1 {
		p = 1
	}
	return p
}
