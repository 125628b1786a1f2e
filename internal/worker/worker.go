// Package worker hosts the bounded pool of conversational sessions. It owns
// the process-wide caches (prewarmed models, service metadata), performs
// recognizer selection at each session start, and applies the repeated-
// failure policy that turns persistent turn errors into session teardown.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/k811069/Bunny-serve-sub001/internal/config"
	"github.com/k811069/Bunny-serve-sub001/internal/content"
	"github.com/k811069/Bunny-serve-sub001/internal/metacache"
	"github.com/k811069/Bunny-serve-sub001/internal/observe"
	"github.com/k811069/Bunny-serve-sub001/internal/pipeline"
	"github.com/k811069/Bunny-serve-sub001/internal/prewarm"
	"github.com/k811069/Bunny-serve-sub001/internal/probe"
	"github.com/k811069/Bunny-serve-sub001/internal/resilience"
	"github.com/k811069/Bunny-serve-sub001/internal/selector"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/llm"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
	"github.com/k811069/Bunny-serve-sub001/pkg/room"
)

// vadModelKey is the prewarm cache key for the voice-activity detector.
const vadModelKey = "vad"

// Providers bundles the backend handles and factories a Worker needs.
// The STT factories run once per session, after the health probe.
type Providers struct {
	Platform       room.Platform
	PrimarySTT     selector.Factory
	FallbackSTT    selector.Factory
	LLM            llm.Provider
	TTS            tts.Provider
	DetectorLoader prewarm.Loader[vad.Detector]
}

// Worker runs sessions up to the configured concurrency bound. All exported
// methods are safe for concurrent use.
type Worker struct {
	cfg       *config.Config
	providers Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	models  *prewarm.Cache[vad.Detector]
	meta    *metacache.Cache
	catalog *Catalog

	sem *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// New creates a Worker. Call [Worker.Prewarm] before accepting sessions so
// the first session does not pay the model load.
func New(cfg *config.Config, providers Providers, log *slog.Logger, metrics *observe.Metrics) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("worker: nil config")
	}
	if providers.Platform == nil || providers.PrimarySTT == nil || providers.FallbackSTT == nil ||
		providers.LLM == nil || providers.TTS == nil || providers.DetectorLoader == nil {
		return nil, fmt.Errorf("worker: incomplete providers")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:       cfg,
		providers: providers,
		log:       log,
		metrics:   metrics,
		models:    prewarm.New[vad.Detector](),
		meta:      metacache.New(),
		sem:       semaphore.NewWeighted(int64(cfg.Worker.MaxSessions)),
		sessions:  make(map[string]context.CancelFunc),
	}, nil
}

// Prewarm loads the voice-activity detector ahead of the first session.
func (w *Worker) Prewarm() error {
	start := time.Now()
	if _, err := w.models.Ensure(vadModelKey, w.providers.DetectorLoader); err != nil {
		return err
	}
	w.log.Info("models prewarmed", "elapsed", time.Since(start))
	return nil
}

// Metadata returns the worker's metadata cache for content features.
func (w *Worker) Metadata() *metacache.Cache {
	return w.meta
}

// AttachContent enables the content features: sessions resolve "play music"
// and "tell a story" requests against store instead of the language model.
// Category lists are cached in the worker's metadata cache.
func (w *Worker) AttachContent(store content.Store, urls *content.URLBuilder) error {
	cat, err := NewCatalog(store, urls, w.meta, w.cfg.Content.CategoriesMaxAge, w.metrics, w.log)
	if err != nil {
		return err
	}
	w.catalog = cat
	return nil
}

// Catalog returns the attached content catalog, or nil when content features
// are disabled.
func (w *Worker) Catalog() *Catalog {
	return w.catalog
}

// ActiveSessions returns the number of currently running sessions.
func (w *Worker) ActiveSessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// StartSession selects a recognizer, builds a pipeline for roomID, and runs
// it on its own goroutine. It returns the session ID immediately, or an
// error when the worker is at capacity, shut down, or no recognizer could be
// constructed. onDone, when non-nil, is invoked with the session's final
// error after all handles are released.
func (w *Worker) StartSession(ctx context.Context, roomID string, onDone func(sessionID string, err error)) (string, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return "", fmt.Errorf("worker: shut down")
	}
	w.mu.Unlock()

	if !w.sem.TryAcquire(1) {
		return "", fmt.Errorf("worker: at capacity (%d sessions)", w.cfg.Worker.MaxSessions)
	}

	sessionID, err := w.buildAndRun(ctx, roomID, onDone)
	if err != nil {
		w.sem.Release(1)
		return "", err
	}
	return sessionID, nil
}

func (w *Worker) buildAndRun(ctx context.Context, roomID string, onDone func(string, error)) (string, error) {
	sessionID := uuid.NewString()
	log := w.log.With("session_id", sessionID, "room_id", roomID)

	// Cold-start safety net: Prewarm normally loaded this at startup.
	detector, err := w.models.Ensure(vadModelKey, w.providers.DetectorLoader)
	if err != nil {
		return "", fmt.Errorf("worker: load detector: %w", err)
	}

	choice, err := w.selectRecognizer(log)
	if err != nil {
		return "", err
	}
	if w.metrics != nil {
		w.metrics.RecordSelection(ctx, choice.Kind.String())
	}
	if choice.Kind == selector.KindPrimary {
		choice.Provider = newGuardedSTT(choice.Provider, w.providers.FallbackSTT, log)
	}

	itn := w.cfg.Recognizer.ITN == nil || *w.cfg.Recognizer.ITN
	var intercept func(context.Context, string) (string, bool, error)
	if w.catalog != nil {
		intercept = w.contentIntercept(w.catalog)
	}
	session, err := pipeline.New(pipeline.Config{
		SessionID: sessionID,
		RoomID:    roomID,
		Platform:  w.providers.Platform,
		Choice:    choice,
		LLM:       w.providers.LLM,
		TTS:       w.providers.TTS,
		Detector:  detector,
		STTConfig: stt.Config{
			Language:   w.cfg.Recognizer.Language,
			ITN:        itn,
			SampleRate: w.cfg.VAD.SampleRate,
		},
		VADConfig: vad.Config{
			SampleRate:          w.cfg.VAD.SampleRate,
			MinSpeechDuration:   w.cfg.VAD.MinSpeechDuration,
			MinSilenceDuration:  w.cfg.VAD.MinSilenceDuration,
			ActivationThreshold: w.cfg.VAD.ActivationThreshold,
			PrefixPadding:       w.cfg.VAD.PrefixPadding,
			MaxBufferedSpeech:   w.cfg.VAD.MaxBufferedSpeech,
		},
		Voice: tts.VoiceParams{
			Voice:  w.cfg.Speech.Voice,
			Rate:   w.cfg.Speech.Rate,
			Volume: w.cfg.Speech.Volume,
			Pitch:  w.cfg.Speech.Pitch,
		},
		SystemPrompt: w.cfg.LLM.SystemPrompt,
		Intercept:    intercept,
		Policy:       &resilience.TurnTracker{Threshold: w.cfg.Worker.TurnFailureThreshold},
		Metrics:      w.metrics,
		Logger:       w.log,
	})
	if err != nil {
		return "", fmt.Errorf("worker: build session: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.sessions[sessionID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		defer cancel()

		runErr := session.Run(sessionCtx)
		if runErr != nil {
			log.Error("session ended with error", "error", runErr)
		} else {
			log.Info("session ended")
		}

		w.mu.Lock()
		delete(w.sessions, sessionID)
		w.mu.Unlock()

		if onDone != nil {
			onDone(sessionID, runErr)
		}
	}()

	log.Info("session started", "recognizer", choice.Kind.String())
	return sessionID, nil
}

// selectRecognizer runs the once-per-session provider selection.
func (w *Worker) selectRecognizer(log *slog.Logger) (selector.Choice, error) {
	sel := selector.New(probe.Endpoint{
		Host:    w.cfg.Recognizer.Host,
		Port:    w.cfg.Recognizer.Port,
		Timeout: w.cfg.Recognizer.ProbeTimeout,
	}, log)
	choice, err := sel.Select(w.providers.PrimarySTT, w.providers.FallbackSTT)
	if err != nil {
		return selector.Choice{}, fmt.Errorf("worker: %w", err)
	}
	return choice, nil
}

// StopSession cancels one running session. Unknown IDs are a no-op.
func (w *Worker) StopSession(sessionID string) {
	w.mu.Lock()
	cancel, ok := w.sessions[sessionID]
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every session and waits for them to release their
// handles, or until ctx expires.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	for _, cancel := range w.sessions {
		cancel()
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: shutdown timed out: %w", ctx.Err())
	}
}
