package notice

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
	ttsmock "github.com/k811069/Bunny-serve-sub001/pkg/provider/tts/mock"
)

// failingStrategy always fails. count tracks attempts.
type failingStrategy struct {
	count int
}

func (f *failingStrategy) Name() string { return "failing" }

func (f *failingStrategy) Attempt(context.Context, string, string) (Result, error) {
	f.count++
	return Result{}, errors.New("nope")
}

// panickingStrategy exercises panic isolation.
type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panicking" }

func (panickingStrategy) Attempt(context.Context, string, string) (Result, error) {
	panic("strategy bug")
}

func TestChainFirstSuccessWins(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "notice.wav")

	first := &failingStrategy{}
	chain := NewChain(slog.Default(), first, &SilentClipStrategy{}, &failingStrategy{})

	res, err := chain.SynthesizeNotice(context.Background(), "service unavailable", out)
	if err != nil {
		t.Fatalf("SynthesizeNotice: %v", err)
	}
	if first.count != 1 {
		t.Errorf("first strategy attempted %d times, want 1", first.count)
	}
	if res.Path != out || res.Format != "wav" {
		t.Errorf("Result = %+v, want path=%s format=wav", res, out)
	}
}

func TestChainShortCircuitsOnExistingFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "notice.mp3")
	if err := os.WriteFile(out, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &failingStrategy{}
	chain := NewChain(slog.Default(), s)

	res, err := chain.SynthesizeNotice(context.Background(), "msg", out)
	if err != nil {
		t.Fatalf("SynthesizeNotice: %v", err)
	}
	if s.count != 0 {
		t.Errorf("strategy attempted %d times despite existing output", s.count)
	}
	if res.Format != "mp3" {
		t.Errorf("Format = %q, want mp3", res.Format)
	}
}

// TestChainShortCircuitsOnDerivedExtension covers a restart after a strategy
// wrote a sibling path: an earlier run asked for notice.mp3, TTSStrategy
// produced notice.wav, and the next run must reuse it instead of
// re-synthesizing.
func TestChainShortCircuitsOnDerivedExtension(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "notice.mp3")
	if err := os.WriteFile(filepath.Join(dir, "notice.wav"), []byte("riff data"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &failingStrategy{}
	chain := NewChain(slog.Default(), s)

	res, err := chain.SynthesizeNotice(context.Background(), "msg", out)
	if err != nil {
		t.Fatalf("SynthesizeNotice: %v", err)
	}
	if s.count != 0 {
		t.Errorf("strategy attempted %d times despite an existing sibling clip", s.count)
	}
	if res.Path != filepath.Join(dir, "notice.wav") || res.Format != "wav" {
		t.Errorf("Result = %+v, want the existing wav sibling", res)
	}
	if res.Strategy != "" {
		t.Errorf("Strategy = %q, want empty for a reused clip", res.Strategy)
	}
}

func TestChainIgnoresEmptySiblingClip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "notice.mp3")
	if err := os.WriteFile(filepath.Join(dir, "notice.wav"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	chain := NewChain(slog.Default(), &SilentClipStrategy{})
	res, err := chain.SynthesizeNotice(context.Background(), "msg", out)
	if err != nil {
		t.Fatalf("SynthesizeNotice: %v", err)
	}
	if res.Strategy == "" {
		t.Error("empty sibling file short-circuited the chain")
	}
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(slog.Default(), &failingStrategy{}, &failingStrategy{})

	_, err := chain.SynthesizeNotice(context.Background(), "msg",
		filepath.Join(t.TempDir(), "notice.wav"))
	if !errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("error = %v, want ErrAllStrategiesFailed", err)
	}
}

func TestChainIsolatesPanics(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notice.wav")
	chain := NewChain(slog.Default(), panickingStrategy{}, &SilentClipStrategy{})

	res, err := chain.SynthesizeNotice(context.Background(), "msg", out)
	if err != nil {
		t.Fatalf("SynthesizeNotice after panic: %v", err)
	}
	if res.Path != out {
		t.Errorf("Path = %q, want %q", res.Path, out)
	}
}

func TestChainTerminalStrategyAlwaysSucceeds(t *testing.T) {
	// Property: regardless of how the earlier strategies fail, a chain ending
	// in SilentClipStrategy succeeds when the directory is writable.
	orderings := [][]Strategy{
		{&SilentClipStrategy{}},
		{&failingStrategy{}, &SilentClipStrategy{}},
		{panickingStrategy{}, &failingStrategy{}, &SilentClipStrategy{}},
		{&failingStrategy{}, &failingStrategy{}, &failingStrategy{}, &SilentClipStrategy{}},
	}
	for i, strategies := range orderings {
		out := filepath.Join(t.TempDir(), "notice.wav")
		chain := NewChain(slog.Default(), strategies...)
		if _, err := chain.SynthesizeNotice(context.Background(), "msg", out); err != nil {
			t.Errorf("ordering %d: SynthesizeNotice failed: %v", i, err)
		}
	}
}

func TestSilentClipWAVHeader(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notice.mp3") // mismatched extension on purpose
	s := &SilentClipStrategy{Duration: 500 * time.Millisecond, SampleRate: 8000}

	res, err := s.Attempt(context.Background(), "", out)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.Format != "wav" {
		t.Errorf("Format = %q, want wav", res.Format)
	}
	if filepath.Ext(res.Path) != ".wav" {
		t.Errorf("Path = %q, want .wav extension", res.Path)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
	wantData := 8000 / 2 * 2 // 500ms of 16-bit samples
	if dataLen := binary.LittleEndian.Uint32(data[40:44]); int(dataLen) != wantData {
		t.Errorf("data length = %d, want %d", dataLen, wantData)
	}
	for _, b := range data[44:] {
		if b != 0 {
			t.Fatal("clip contains non-silent samples")
		}
	}
}

func TestTTSStrategyWritesNativeFormat(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notice.wav")
	provider := &ttsmock.Provider{Chunks: [][]byte{[]byte("mp3-"), []byte("bytes")}}

	s := &TTSStrategy{Provider: provider, Params: tts.VoiceParams{Voice: "test"}}
	res, err := s.Attempt(context.Background(), "hello", out)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.Format != "mp3" {
		t.Errorf("Format = %q, want mp3 (native)", res.Format)
	}
	if filepath.Ext(res.Path) != ".mp3" {
		t.Errorf("Path = %q, want derived .mp3 path", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "mp3-bytes" {
		t.Errorf("file content = %q", data)
	}
}

func TestTTSStrategyProviderError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notice.mp3")
	provider := &ttsmock.Provider{Err: errors.New("websocket closed")}

	s := &TTSStrategy{Provider: provider}
	if _, err := s.Attempt(context.Background(), "hello", out); err == nil {
		t.Fatal("Attempt succeeded with failing provider")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("failed attempt left a file behind")
	}
}

func TestCommandStrategyMissingBinary(t *testing.T) {
	s := &CommandStrategy{Binary: "definitely-not-installed-xyz"}
	_, err := s.Attempt(context.Background(), "msg", filepath.Join(t.TempDir(), "n.wav"))
	if err == nil {
		t.Fatal("Attempt succeeded with missing binary")
	}
}
