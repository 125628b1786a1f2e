package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	sttmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/stt/mock"
)

func TestGuardedSTTPrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: "hello"}
	factoryCalls := 0
	g := newGuardedSTT(primary, func() (stt.Provider, error) {
		factoryCalls++
		return &sttmock.Provider{Result: "fallback"}, nil
	}, slog.Default())

	text, err := g.Transcribe(context.Background(), strings.NewReader("pcm"), stt.Config{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}
	if factoryCalls != 0 {
		t.Errorf("fallback factory called %d times on the happy path", factoryCalls)
	}
}

// TestGuardedSTTTripsToFallback drives the primary through enough failures
// to open the breaker, then verifies that further segments no longer touch
// the primary and come back from the fallback instead.
func TestGuardedSTTTripsToFallback(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("recognizer gone")}
	fallback := &sttmock.Provider{Result: "rescued"}
	g := newGuardedSTT(primary, func() (stt.Provider, error) { return fallback, nil }, slog.Default())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		text, err := g.Transcribe(ctx, strings.NewReader("pcm"), stt.Config{})
		if err != nil {
			t.Fatalf("Transcribe %d: %v", i, err)
		}
		if text != "rescued" {
			t.Errorf("Transcribe %d: text = %q, want %q", i, text, "rescued")
		}
	}

	// Default breaker trips after 3 consecutive failures, so the primary
	// must have been attempted exactly 3 times across the 5 segments.
	if got := len(primary.Calls()); got != 3 {
		t.Errorf("primary attempts = %d, want 3 (breaker open)", got)
	}
	if got := len(fallback.Calls()); got != 5 {
		t.Errorf("fallback attempts = %d, want 5", got)
	}
}

// TestGuardedSTTReplaysSegment verifies the fallback receives the same audio
// bytes the primary consumed before failing.
func TestGuardedSTTReplaysSegment(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("boom")}
	var seen string
	fallback := &sttmock.Provider{
		TranscribeFunc: func(_ context.Context, audio io.Reader, _ stt.Config) (string, error) {
			b, _ := io.ReadAll(audio)
			seen = string(b)
			return "ok", nil
		},
	}
	g := newGuardedSTT(primary, func() (stt.Provider, error) { return fallback, nil }, slog.Default())

	if _, err := g.Transcribe(context.Background(), strings.NewReader("segment-bytes"), stt.Config{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if seen != "segment-bytes" {
		t.Errorf("fallback saw %q, want %q", seen, "segment-bytes")
	}
}

func TestGuardedSTTNoFallbackOnCancel(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, audio io.Reader, _ stt.Config) (string, error) {
			_, _ = io.Copy(io.Discard, audio)
			return "", ctx.Err()
		},
	}
	factoryCalls := 0
	g := newGuardedSTT(primary, func() (stt.Provider, error) {
		factoryCalls++
		return &sttmock.Provider{Result: "fallback"}, nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Transcribe(ctx, strings.NewReader("pcm"), stt.Config{}); err == nil {
		t.Fatal("Transcribe with cancelled context did not fail")
	}
	if factoryCalls != 0 {
		t.Errorf("fallback factory called %d times for a cancelled segment", factoryCalls)
	}
}

func TestGuardedSTTFactoryErrorKeepsPrimaryError(t *testing.T) {
	primaryErr := errors.New("primary down")
	primary := &sttmock.Provider{Err: primaryErr}
	g := newGuardedSTT(primary, func() (stt.Provider, error) {
		return nil, errors.New("no fallback configured")
	}, slog.Default())

	_, err := g.Transcribe(context.Background(), strings.NewReader("pcm"), stt.Config{})
	if !errors.Is(err, primaryErr) {
		t.Errorf("err = %v, want the primary's error", err)
	}
}
