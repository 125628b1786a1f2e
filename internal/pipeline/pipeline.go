// Package pipeline drives one conversational session: connect to the room,
// await a participant, then run the perception-to-speech loop until the
// participant leaves, the room closes, or an unrecoverable error occurs.
//
// The session is a state machine:
//
//	Connecting → AwaitingParticipant → Active → Closing → Closed
//
// Within Active each turn cycles through the sub-phases Listening →
// Transcribing → Responding → Speaking → Listening, driven by VAD events. A
// stage failure aborts only the current turn; the surrounding worker decides
// when repeated failures should end the session.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/k811069/Bunny-serve-sub001/internal/observe"
	"github.com/k811069/Bunny-serve-sub001/internal/selector"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/llm"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
	"github.com/k811069/Bunny-serve-sub001/pkg/room"
	"github.com/k811069/Bunny-serve-sub001/pkg/room/opusutil"
)

// State is the session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAwaitingParticipant
	StateActive
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingParticipant:
		return "awaiting-participant"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Turn stage names, used in turn-error reporting and metrics attributes.
const (
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
	StageSpeak      = "speak"
)

// ErrSessionClosed is returned from Run when the room connection ends before
// any participant produced audio.
var ErrSessionClosed = errors.New("pipeline: session closed")

// TurnPolicy is consulted after every turn outcome. RecordFailure returns
// true when the session should end; the worker supplies an implementation
// backed by its failure threshold.
type TurnPolicy interface {
	RecordFailure(stage string) bool
	RecordSuccess(stage string)
}

// Config assembles everything one session needs. All provider handles are
// owned by the session for its lifetime and released on close, except the
// prewarmed Detector, which is shared across sessions and only has its
// per-session vad.Session closed.
type Config struct {
	SessionID string
	RoomID    string

	Platform room.Platform
	Choice   selector.Choice
	LLM      llm.Provider
	TTS      tts.Provider
	Detector vad.Detector

	STTConfig stt.Config
	VADConfig vad.Config
	Voice     tts.VoiceParams

	// SystemPrompt seeds the conversation history.
	SystemPrompt string

	// StageTimeout bounds each transcription, response, and synthesis call.
	// Default 30s.
	StageTimeout time.Duration

	// Intercept, when non-nil, sees each transcript before the language
	// model. Returning handled=true uses reply verbatim and skips the
	// model; an intercept error falls through to the model instead of
	// aborting the turn.
	Intercept func(ctx context.Context, transcript string) (reply string, handled bool, err error)

	Policy  TurnPolicy
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Session is one live conversational pipeline. Create with New, drive with
// Run; a Session is not reusable.
type Session struct {
	cfg  Config
	log  *slog.Logger
	bus  *broadcaster
	chat []llm.Message

	mu    sync.Mutex
	state State
}

// New validates cfg and creates a Session in the Connecting state.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Platform == nil {
		errs = append(errs, errors.New("platform is required"))
	}
	if cfg.Choice.Provider == nil {
		errs = append(errs, errors.New("speech-to-text provider is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("language-model provider is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("speech-synthesis provider is required"))
	}
	if cfg.Detector == nil {
		errs = append(errs, errors.New("voice-activity detector is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = nopPolicy{}
	}

	log := cfg.Logger.With("session_id", cfg.SessionID, "room_id", cfg.RoomID)
	s := &Session{
		cfg:   cfg,
		log:   log,
		bus:   &broadcaster{log: log},
		state: StateConnecting,
	}
	if cfg.SystemPrompt != "" {
		s.chat = append(s.chat, llm.Message{Role: llm.RoleSystem, Content: cfg.SystemPrompt})
	}
	return s, nil
}

// Subscribe registers a lifecycle event listener. Listener panics are
// isolated per dispatch and never abort the pipeline.
func (s *Session) Subscribe(l Listener) {
	s.bus.subscribe(l)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.Debug("session state change", "from", prev.String(), "to", next.String())
}

// nopPolicy absorbs turn errors without ever ending the session.
type nopPolicy struct{}

func (nopPolicy) RecordFailure(string) bool { return false }
func (nopPolicy) RecordSuccess(string)      {}

// Run executes the session until the participant leaves, the room closes,
// ctx is cancelled, or the turn policy escalates. The returned error is nil
// for a clean close and session-fatal otherwise. Run always releases the
// connection and the VAD session before returning.
func (s *Session) Run(ctx context.Context) (runErr error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}

	conn, err := s.cfg.Platform.Connect(ctx, s.cfg.RoomID)
	if err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("pipeline: connect room %s: %w", s.cfg.RoomID, err)
	}

	vadSession, err := s.cfg.Detector.NewSession(s.cfg.VADConfig)
	if err != nil {
		conn.Close()
		s.setState(StateClosed)
		return fmt.Errorf("pipeline: create vad session: %w", err)
	}

	defer func() {
		s.setState(StateClosing)
		if cerr := conn.Close(); cerr != nil {
			s.log.Warn("room connection close failed", "error", cerr)
		}
		if cerr := vadSession.Close(); cerr != nil {
			s.log.Warn("vad session close failed", "error", cerr)
		}
		s.setState(StateClosed)
		s.bus.publish(Event{Name: EventClosed, SessionID: s.cfg.SessionID})
		s.log.Info("session closed", "error", runErr)
	}()

	// Participant lifecycle: the first join moves the session to Active; the
	// active participant's leave cancels the session context, which also
	// interrupts any in-flight turn stage.
	joins := make(chan room.Event, 8)
	conn.OnParticipantChange(func(ev room.Event) {
		select {
		case joins <- ev:
		case <-ctx.Done():
		}
	})

	s.setState(StateAwaitingParticipant)
	participant, frames, err := s.awaitParticipant(ctx, conn, joins)
	if err != nil {
		return err
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveParticipants.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveParticipants.Add(ctx, -1)
	}
	s.bus.publish(Event{Name: EventParticipantJoined, SessionID: s.cfg.SessionID, Participant: participant})
	s.log.Info("participant active", "participant", participant)

	// Watch for the active participant leaving.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-joins:
				if !ok {
					return
				}
				if ev.Type == room.EventLeave && ev.UserID == participant {
					s.log.Info("participant left", "participant", participant)
					cancel()
					return
				}
			}
		}
	}()

	s.setState(StateActive)
	return s.perceptionLoop(ctx, conn, vadSession, participant, frames)
}

// awaitParticipant blocks until a participant input stream is available.
func (s *Session) awaitParticipant(ctx context.Context, conn room.Connection, joins <-chan room.Event) (string, <-chan room.Frame, error) {
	if id, ch, ok := firstStream(conn); ok {
		return id, ch, nil
	}
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case ev, ok := <-joins:
			if !ok {
				return "", nil, ErrSessionClosed
			}
			if ev.Type != room.EventJoin {
				continue
			}
			if id, ch, ok := firstStream(conn); ok {
				return id, ch, nil
			}
		}
	}
}

func firstStream(conn room.Connection) (string, <-chan room.Frame, bool) {
	for id, ch := range conn.InputStreams() {
		return id, ch, true
	}
	return "", nil, false
}

// perceptionLoop feeds frames through VAD and runs one turn per closed
// segment. Returning nil means a clean close (participant left or room
// closed); a non-nil return is session-fatal.
func (s *Session) perceptionLoop(ctx context.Context, conn room.Connection, vadSession vad.Session, participant string, frames <-chan room.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			ev, err := vadSession.ProcessFrame(s.normalizeFrame(frame))
			if err != nil {
				s.log.Warn("vad frame rejected", "error", err)
				continue
			}
			if ev.Type != vad.EventSegmentEnd {
				continue
			}
			if fatal := s.runTurn(ctx, conn, participant, ev.Segment); fatal != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fatal
			}
		}
	}
}

// normalizeFrame converts a room-rate frame to the detector's mono sample
// rate. Frames already at the target rate, or at a rate the decimation
// cannot divide, pass through unchanged.
func (s *Session) normalizeFrame(frame room.Frame) []byte {
	target := s.cfg.VADConfig.SampleRate
	if target <= 0 {
		target = 16000
	}
	if frame.SampleRate == 0 || frame.SampleRate == target {
		return frame.Data
	}
	if frame.SampleRate%target != 0 {
		return frame.Data
	}
	pcm := opusutil.BytesToInt16s(frame.Data)
	if frame.Channels == 2 {
		pcm = opusutil.StereoToMono(pcm)
	}
	pcm = opusutil.Downsample(pcm, frame.SampleRate/target)
	return opusutil.Int16sToBytes(pcm)
}

// runTurn executes one Transcribing → Responding → Speaking cycle. Stage
// failures are absorbed as turn errors unless the policy escalates; the
// returned error is non-nil only for session-fatal outcomes.
func (s *Session) runTurn(ctx context.Context, conn room.Connection, participant string, segment []byte) error {
	turnStart := time.Now()

	// Transcribing.
	transcript, err := s.transcribe(ctx, segment)
	if err != nil {
		return s.turnError(ctx, StageTranscribe, err)
	}
	// A disconnect during transcription ends the session before the
	// language model is consulted.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if strings.TrimSpace(transcript) == "" {
		s.log.Debug("empty transcript, staying in listening")
		return nil
	}
	s.bus.publish(Event{Name: EventInputTranscribed, SessionID: s.cfg.SessionID, Participant: participant, Text: transcript})
	s.cfg.Policy.RecordSuccess(StageTranscribe)

	// Responding.
	reply, err := s.respond(ctx, transcript)
	if err != nil {
		return s.turnError(ctx, StageRespond, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.bus.publish(Event{Name: EventResponseGenerated, SessionID: s.cfg.SessionID, Participant: participant, Text: reply})
	s.cfg.Policy.RecordSuccess(StageRespond)

	// Speaking.
	if err := s.speak(ctx, conn, reply); err != nil {
		return s.turnError(ctx, StageSpeak, err)
	}
	s.cfg.Policy.RecordSuccess(StageSpeak)
	s.bus.publish(Event{Name: EventSpeechCommitted, SessionID: s.cfg.SessionID, Participant: participant, Text: reply})

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	}
	return nil
}

// turnError logs and publishes a turn failure, then consults the policy.
// It returns nil when the turn is merely dropped and an error when the
// repeated-failure threshold ends the session.
func (s *Session) turnError(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		// Cancellation is a close, not a backend failure.
		return ctx.Err()
	}
	s.log.Warn("turn aborted", "stage", stage, "error", err)
	s.bus.publish(Event{Name: EventTurnAborted, SessionID: s.cfg.SessionID, Stage: stage, Err: err})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordTurnError(ctx, stage)
	}
	if s.cfg.Policy.RecordFailure(stage) {
		return fmt.Errorf("pipeline: stage %s failed repeatedly: %w", stage, err)
	}
	return nil
}

func (s *Session) transcribe(ctx context.Context, segment []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	start := time.Now()
	text, err := s.cfg.Choice.Provider.Transcribe(ctx, bytes.NewReader(segment), s.cfg.STTConfig)
	s.recordStage(ctx, s.metricSTT(), start)
	return text, err
}

func (s *Session) respond(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "pipeline.respond")
	defer span.End()

	if s.cfg.Intercept != nil {
		reply, handled, err := s.cfg.Intercept(ctx, transcript)
		if err != nil {
			s.log.Warn("intercept failed, falling through to model", "error", err)
		} else if handled {
			s.chat = append(s.chat,
				llm.Message{Role: llm.RoleUser, Content: transcript},
				llm.Message{Role: llm.RoleAssistant, Content: reply})
			return reply, nil
		}
	}

	s.chat = append(s.chat, llm.Message{Role: llm.RoleUser, Content: transcript})
	start := time.Now()
	reply, err := s.cfg.LLM.Respond(ctx, s.chat)
	s.recordStage(ctx, s.metricLLM(), start)
	if err != nil {
		// Drop the unanswered user message so a retried turn does not
		// accumulate duplicates.
		s.chat = s.chat[:len(s.chat)-1]
		return "", err
	}
	s.chat = append(s.chat, llm.Message{Role: llm.RoleAssistant, Content: reply})
	return reply, nil
}

func (s *Session) speak(ctx context.Context, conn room.Connection, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "pipeline.speak")
	defer span.End()

	start := time.Now()
	chunks, err := s.cfg.TTS.Synthesize(ctx, text, s.cfg.Voice)
	if err != nil {
		s.recordStage(ctx, s.metricTTS(), start)
		return err
	}
	err = conn.Play(ctx, chunks)
	s.recordStage(ctx, s.metricTTS(), start)
	return err
}

func (s *Session) recordStage(ctx context.Context, h metric.Float64Histogram, start time.Time) {
	if h != nil {
		h.Record(ctx, time.Since(start).Seconds())
	}
}

func (s *Session) metricSTT() metric.Float64Histogram {
	if s.cfg.Metrics == nil {
		return nil
	}
	return s.cfg.Metrics.STTDuration
}

func (s *Session) metricLLM() metric.Float64Histogram {
	if s.cfg.Metrics == nil {
		return nil
	}
	return s.cfg.Metrics.LLMDuration
}

func (s *Session) metricTTS() metric.Float64Histogram {
	if s.cfg.Metrics == nil {
		return nil
	}
	return s.cfg.Metrics.TTSDuration
}
