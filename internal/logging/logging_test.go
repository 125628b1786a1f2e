package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bunny.log")
	logger, closeFn, err := New(Config{FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("session started", "session_id", "s-1")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &rec); err != nil {
		t.Fatalf("file content is not JSON: %v", err)
	}
	if rec["msg"] != "session started" || rec["session_id"] != "s-1" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewWithoutFile(t *testing.T) {
	logger, closeFn, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("console only")
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

// failingHandler always errors, to prove fan-out isolation.
type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool   { return true }
func (failingHandler) Handle(context.Context, slog.Record) error  { return errors.New("sink down") }
func (failingHandler) WithAttrs([]slog.Attr) slog.Handler         { return failingHandler{} }
func (failingHandler) WithGroup(string) slog.Handler              { return failingHandler{} }

// recordingHandler captures records for assertions.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (r *recordingHandler) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, rec.Message)
	return nil
}

func (r *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recordingHandler) WithGroup(string) slog.Handler      { return r }

func TestFanoutIsolatesFailingDestination(t *testing.T) {
	rec := &recordingHandler{}
	logger := slog.New(&fanout{handlers: []slog.Handler{failingHandler{}, rec}})

	logger.Info("still delivered")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || rec.msgs[0] != "still delivered" {
		t.Errorf("healthy destination missed the record: %v", rec.msgs)
	}
}

func TestRotatingFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bunny.log")
	rf, err := newRotatingFile(path, 64, 2)
	if err != nil {
		t.Fatalf("newRotatingFile: %v", err)
	}

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := rf.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("no rotated file: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("rotation kept more files than configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 64+int64(len(line)) {
		t.Errorf("active file size %d exceeds limit", info.Size())
	}
}

func TestShipperGatedOnAllThreeCredentials(t *testing.T) {
	t.Setenv(EnvRemoteEndpoint, "http://logs.example.com")
	t.Setenv(EnvRemoteAccessKey, "key")
	t.Setenv(EnvRemoteAccessSecret, "")

	if s := newShipperFromEnv(nil); s != nil {
		s.Close()
		t.Fatal("shipper activated with a missing credential")
	}
}

func TestShipperPostsBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		keys  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, r.Header.Get("X-Access-Key"))
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
	}))
	defer srv.Close()

	t.Setenv(EnvRemoteEndpoint, srv.URL)
	t.Setenv(EnvRemoteAccessKey, "ak")
	t.Setenv(EnvRemoteAccessSecret, "sk")

	s := newShipperFromEnv(nil)
	if s == nil {
		t.Fatal("shipper not activated with full credentials")
	}

	logger := slog.New(s.handler())
	logger.Info("shipped line", "n", 1)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("remote received %d lines, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "shipped line") {
		t.Errorf("line = %q", lines[0])
	}
	if keys[0] != "ak" {
		t.Errorf("access key header = %q, want ak", keys[0])
	}
}

func TestShipperUnreachableEndpointDegradesSilently(t *testing.T) {
	t.Setenv(EnvRemoteEndpoint, "http://127.0.0.1:1/logs")
	t.Setenv(EnvRemoteAccessKey, "ak")
	t.Setenv(EnvRemoteAccessSecret, "sk")

	s := newShipperFromEnv(nil)
	if s == nil {
		t.Fatal("shipper not activated")
	}
	logger := slog.New(s.handler())
	for i := 0; i < 10; i++ {
		logger.Info("doomed line")
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close blocked on unreachable endpoint")
	}
}
