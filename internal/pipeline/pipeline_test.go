package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/k811069/Bunny-serve-sub001/internal/selector"
	llmmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/llm/mock"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	sttmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/stt/mock"
	ttsmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/tts/mock"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
	vadmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/vad/mock"
	"github.com/k811069/Bunny-serve-sub001/pkg/room"
	roommock "github.com/k811069/Bunny-serve-sub001/pkg/room/mock"
	"github.com/k811069/Bunny-serve-sub001/pkg/room/opusutil"
)

// fixture bundles the mocks behind one session.
type fixture struct {
	conn     *roommock.Connection
	platform *roommock.Platform
	sttP     *sttmock.Provider
	llmP     *llmmock.Provider
	ttsP     *ttsmock.Provider
	detector *vadmock.Detector
	frames   chan room.Frame
}

func newFixture(script []vad.Event) *fixture {
	frames := make(chan room.Frame, 16)
	conn := &roommock.Connection{
		InputStreamsResult: map[string]<-chan room.Frame{"user-1": frames},
	}
	return &fixture{
		conn:     conn,
		platform: &roommock.Platform{ConnectResult: conn},
		sttP:     &sttmock.Provider{Result: "hello there"},
		llmP:     &llmmock.Provider{Reply: "hi, how can I help"},
		ttsP:     &ttsmock.Provider{Chunks: [][]byte{[]byte("audio")}},
		detector: &vadmock.Detector{Script: script},
		frames:   frames,
	}
}

func (f *fixture) config() Config {
	return Config{
		SessionID: "s-1",
		RoomID:    "room-1",
		Platform:  f.platform,
		Choice:    selector.Choice{Kind: selector.KindPrimary, Provider: f.sttP},
		LLM:       f.llmP,
		TTS:       f.ttsP,
		Detector:  f.detector,
	}
}

// eventRecorder is a listener that collects event names in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func segmentEnd(pcm string) vad.Event {
	return vad.Event{Type: vad.EventSegmentEnd, Segment: []byte(pcm)}
}

func TestRunHappyPathTurn(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("utterance-pcm")})
	s, err := New(f.config())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &eventRecorder{}
	s.Subscribe(rec.listen)

	f.frames <- room.Frame{Data: []byte("frame")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}

	want := []string{
		EventParticipantJoined,
		EventInputTranscribed,
		EventResponseGenerated,
		EventSpeechCommitted,
		EventClosed,
	}
	got := rec.names()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if calls := f.ttsP.Calls(); len(calls) != 1 || calls[0].Text != "hi, how can I help" {
		t.Errorf("tts calls = %+v", calls)
	}
	if len(f.conn.Played) != 1 || string(f.conn.Played[0]) != "audio" {
		t.Errorf("played = %v, want synthesized audio", f.conn.Played)
	}
	if f.conn.CallCountClose == 0 {
		t.Error("connection was not closed")
	}
}

func TestRunConversationHistoryGrows(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one"), segmentEnd("two")})
	cfg := f.config()
	cfg.SystemPrompt = "you are a gentle companion"
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("a")}
	f.frames <- room.Frame{Data: []byte("b")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := f.llmP.Calls()
	if len(calls) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(calls))
	}
	// system + user on the first turn; system + user + assistant + user on
	// the second.
	if len(calls[0]) != 2 || len(calls[1]) != 4 {
		t.Errorf("conversation lengths = %d, %d, want 2, 4", len(calls[0]), len(calls[1]))
	}
	if calls[0][0].Content != "you are a gentle companion" {
		t.Errorf("system prompt missing: %+v", calls[0][0])
	}
}

func TestRunEmptyTranscriptSkipsResponse(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("noise")})
	f.sttP.Result = "   "
	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("frame")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.llmP.Calls()) != 0 {
		t.Error("language model consulted for an empty transcript")
	}
}

func TestRunInterceptSkipsModel(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("utterance")})
	cfg := f.config()
	cfg.Intercept = func(_ context.Context, transcript string) (string, bool, error) {
		if transcript != "hello there" {
			t.Errorf("intercepted transcript = %q", transcript)
		}
		return "canned reply", true, nil
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("frame")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.llmP.Calls()) != 0 {
		t.Error("language model consulted despite handled intercept")
	}
	if calls := f.ttsP.Calls(); len(calls) != 1 || calls[0].Text != "canned reply" {
		t.Errorf("tts calls = %+v, want the intercept reply", calls)
	}
}

func TestRunInterceptErrorFallsThrough(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("utterance")})
	cfg := f.config()
	cfg.Intercept = func(context.Context, string) (string, bool, error) {
		return "", false, errors.New("store offline")
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("frame")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.llmP.Calls()) != 1 {
		t.Errorf("llm calls = %d, want fallthrough to the model", len(f.llmP.Calls()))
	}
}

func TestNormalizeFrameDownmixesRoomAudio(t *testing.T) {
	f := newFixture(nil)
	cfg := f.config()
	cfg.VADConfig.SampleRate = 16000
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Six stereo sample pairs at 48 kHz become two mono samples at 16 kHz.
	stereo := make([]int16, 12)
	for i := range stereo {
		stereo[i] = int16(i * 100)
	}
	frame := room.Frame{
		Data:       opusutil.Int16sToBytes(stereo),
		SampleRate: 48000,
		Channels:   2,
	}
	got := s.normalizeFrame(frame)
	if len(got) != 4 {
		t.Fatalf("normalized frame = %d bytes, want 4", len(got))
	}

	// A frame already at the detector rate passes through untouched.
	native := room.Frame{Data: []byte{1, 2, 3, 4}, SampleRate: 16000}
	if out := s.normalizeFrame(native); len(out) != 4 || out[0] != 1 {
		t.Errorf("native frame altered: %v", out)
	}
}

func TestRunTurnErrorAbsorbed(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one"), segmentEnd("two")})
	failures := 0
	f.sttP.TranscribeFunc = func(_ context.Context, audio io.Reader, _ stt.Config) (string, error) {
		io.Copy(io.Discard, audio)
		failures++
		if failures == 1 {
			return "", errors.New("recognizer hiccup")
		}
		return "second try", nil
	}
	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}
	rec := &eventRecorder{}
	s.Subscribe(rec.listen)

	f.frames <- room.Frame{Data: []byte("a")}
	f.frames <- room.Frame{Data: []byte("b")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v (turn errors must not be session-fatal)", err)
	}

	aborted := 0
	for _, name := range rec.names() {
		if name == EventTurnAborted {
			aborted++
		}
	}
	if aborted != 1 {
		t.Errorf("turn-aborted events = %d, want 1", aborted)
	}
	// The second segment still completed a full turn.
	if len(f.llmP.Calls()) != 1 {
		t.Errorf("llm calls = %d, want 1", len(f.llmP.Calls()))
	}
}

// escalatingPolicy ends the session on the first failure.
type escalatingPolicy struct{}

func (escalatingPolicy) RecordFailure(string) bool { return true }
func (escalatingPolicy) RecordSuccess(string)      {}

func TestRunPolicyEscalationIsFatal(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one")})
	f.sttP.Err = errors.New("recognizer down")
	cfg := f.config()
	cfg.Policy = escalatingPolicy{}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("a")}
	close(f.frames)

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil after policy escalation")
	}
	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}
}

func TestRunDisconnectDuringTranscriptionSkipsResponse(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one")})
	f.sttP.TranscribeFunc = func(ctx context.Context, audio io.Reader, _ stt.Config) (string, error) {
		io.Copy(io.Discard, audio)
		// Participant leaves while transcription is in flight.
		f.conn.EmitEvent(room.Event{Type: room.EventLeave, UserID: "user-1"})
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return "too late", nil
	}
	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}

	f.frames <- room.Frame{Data: []byte("a")}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run after disconnect: %v", err)
	}
	if len(f.llmP.Calls()) != 0 {
		t.Error("language model consulted after participant disconnect")
	}
	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}
}

func TestRunAwaitsLateParticipant(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one")})
	f.conn.InputStreamsResult = nil // nobody in the room yet

	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Give the session time to reach AwaitingParticipant, then join.
	time.Sleep(50 * time.Millisecond)
	f.conn.SetInputStreams(map[string]<-chan room.Frame{"user-2": f.frames})
	f.conn.EmitEvent(room.Event{Type: room.EventJoin, UserID: "user-2"})

	f.frames <- room.Frame{Data: []byte("a")}
	close(f.frames)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session never activated after late join")
	}
	if len(f.ttsP.Calls()) != 1 {
		t.Errorf("tts calls = %d, want 1", len(f.ttsP.Calls()))
	}
}

func TestRunConnectFailureIsFatal(t *testing.T) {
	f := newFixture(nil)
	f.platform.ConnectError = errors.New("room rejected us")
	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil on connect failure")
	}
	if s.State() != StateClosed {
		t.Errorf("State = %v, want Closed", s.State())
	}
}

func TestSubscribePanicIsolation(t *testing.T) {
	f := newFixture([]vad.Event{segmentEnd("one")})
	s, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}
	rec := &eventRecorder{}
	s.Subscribe(func(Event) { panic("listener bug") })
	s.Subscribe(rec.listen)

	f.frames <- room.Frame{Data: []byte("a")}
	close(f.frames)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v (listener panic must not abort the pipeline)", err)
	}
	if len(rec.names()) == 0 {
		t.Error("second listener starved by the panicking one")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateConnecting:          "connecting",
		StateAwaitingParticipant: "awaiting-participant",
		StateActive:              "active",
		StateClosing:             "closing",
		StateClosed:              "closed",
	}
	for state, name := range want {
		if state.String() != name {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), name)
		}
	}
}
