package selector

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/k811069/Bunny-serve-sub001/internal/probe"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	sttmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/stt/mock"
)

func newTestSelector(result probe.Result) *Selector {
	s := New(probe.Endpoint{Host: "recognizer", Port: 10095, Timeout: time.Second}, slog.Default())
	s.probeFn = func(probe.Endpoint) probe.Result { return result }
	return s
}

func TestSelectPrimaryWhenReachable(t *testing.T) {
	s := newTestSelector(probe.Result{Status: probe.Reachable})

	primary := &sttmock.Provider{Result: "primary"}
	fallback := &sttmock.Provider{Result: "fallback"}

	choice, err := s.Select(
		func() (stt.Provider, error) { return primary, nil },
		func() (stt.Provider, error) { return fallback, nil },
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if choice.Kind != KindPrimary {
		t.Errorf("Kind = %v, want KindPrimary", choice.Kind)
	}
	if choice.Provider != primary {
		t.Error("Provider is not the primary instance")
	}
}

func TestSelectFallbackWhenUnreachable(t *testing.T) {
	s := newTestSelector(probe.Result{Status: probe.Unreachable})

	fallback := &sttmock.Provider{Result: "fallback"}
	primaryCalled := false

	choice, err := s.Select(
		func() (stt.Provider, error) {
			primaryCalled = true
			return &sttmock.Provider{}, nil
		},
		func() (stt.Provider, error) { return fallback, nil },
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if primaryCalled {
		t.Error("primary factory invoked despite unreachable endpoint")
	}
	if choice.Kind != KindFallback || choice.Provider != fallback {
		t.Errorf("got kind=%v, want fallback provider", choice.Kind)
	}
}

func TestSelectFallbackWhenPrimaryFactoryFails(t *testing.T) {
	s := newTestSelector(probe.Result{Status: probe.Reachable})

	fallback := &sttmock.Provider{Result: "fallback"}
	choice, err := s.Select(
		func() (stt.Provider, error) { return nil, errors.New("handshake rejected") },
		func() (stt.Provider, error) { return fallback, nil },
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if choice.Kind != KindFallback || choice.Provider != fallback {
		t.Error("primary construction failure did not fall through to fallback")
	}
}

func TestSelectErrorWhenBothFail(t *testing.T) {
	s := newTestSelector(probe.Result{Status: probe.Unreachable})

	_, err := s.Select(
		func() (stt.Provider, error) { return nil, errors.New("primary down") },
		func() (stt.Provider, error) { return nil, errors.New("no api key") },
	)
	if err == nil {
		t.Fatal("Select returned nil error with both factories failing")
	}
}

func TestSelectTreatsProbeErrorAsUnreachable(t *testing.T) {
	s := newTestSelector(probe.Result{Status: probe.Failed, Err: errors.New("dns failure")})

	fallback := &sttmock.Provider{}
	choice, err := s.Select(
		func() (stt.Provider, error) { t.Fatal("primary factory must not run"); return nil, nil },
		func() (stt.Provider, error) { return fallback, nil },
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if choice.Kind != KindFallback {
		t.Errorf("Kind = %v, want KindFallback", choice.Kind)
	}
}
