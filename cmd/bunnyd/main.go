// Command bunnyd is the main entry point for the Bunny voice-assistant
// server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/k811069/Bunny-serve-sub001/internal/config"
	"github.com/k811069/Bunny-serve-sub001/internal/content"
	"github.com/k811069/Bunny-serve-sub001/internal/content/pgstore"
	"github.com/k811069/Bunny-serve-sub001/internal/health"
	"github.com/k811069/Bunny-serve-sub001/internal/logging"
	"github.com/k811069/Bunny-serve-sub001/internal/notice"
	"github.com/k811069/Bunny-serve-sub001/internal/observe"
	"github.com/k811069/Bunny-serve-sub001/internal/probe"
	"github.com/k811069/Bunny-serve-sub001/internal/worker"
	oaembed "github.com/k811069/Bunny-serve-sub001/pkg/provider/embeddings/openai"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/llm/anyllm"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt/funasr"
	oastt "github.com/k811069/Bunny-serve-sub001/pkg/provider/stt/openai"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts/edge"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/vad/energy"
	"github.com/k811069/Bunny-serve-sub001/pkg/room"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	roomName := flag.String("room", "", "room platform to connect through (default: the single registered platform)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bunnyd: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, closeLogs, err := logging.New(logging.Config{
		Level:    cfg.Server.LogLevel.SlogLevel(),
		FilePath: cfg.Server.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bunnyd: logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeLogs(); err != nil {
			fmt.Fprintf(os.Stderr, "bunnyd: close logs: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("bunnyd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "bunnyd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Room platform ─────────────────────────────────────────────────────────
	platform, err := resolvePlatform(*roomName)
	if err != nil {
		slog.Error("room platform unavailable", "err", err)
		return 1
	}

	// ── Providers and worker ──────────────────────────────────────────────────
	var w *worker.Worker
	if platform != nil {
		providers, err := buildProviders(cfg, platform)
		if err != nil {
			slog.Error("failed to build providers", "err", err)
			return 1
		}
		w, err = worker.New(cfg, providers, logger, metrics)
		if err != nil {
			slog.Error("failed to create worker", "err", err)
			return 1
		}
		if err := w.Prewarm(); err != nil {
			slog.Error("model prewarm failed", "err", err)
			return 1
		}
	} else {
		slog.Warn("no room platform registered, running without session support")
	}

	// ── Content store (optional) ──────────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.Content.DatabaseDSN != "" && w != nil {
		pool, err = attachContent(ctx, cfg, w)
		if err != nil {
			slog.Error("failed to attach content store", "err", err)
			return 1
		}
		defer pool.Close()
	}

	// ── Notice clips ──────────────────────────────────────────────────────────
	prepareNotices(ctx, cfg, metrics)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.EndpointChecker("recognizer", probe.Endpoint{
			Host:    cfg.Recognizer.Host,
			Port:    cfg.Recognizer.Port,
			Timeout: cfg.Recognizer.ProbeTimeout,
		}),
	}
	if pool != nil {
		checkers = append(checkers, health.Checker{Name: "content-store", Check: pool.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	(&sessionsAPI{worker: w}).register(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	printStartupSummary(cfg, platform != nil, pool != nil)
	slog.Info("server ready — press Ctrl+C to shut down")

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if w != nil {
		if err := w.Shutdown(shutdownCtx); err != nil {
			slog.Warn("worker shutdown error", "err", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// resolvePlatform picks a room platform by name, or the single registered one
// when name is empty. A nil platform with nil error means none is registered.
func resolvePlatform(name string) (room.Platform, error) {
	if name != "" {
		return room.Open(name)
	}
	names := room.Platforms()
	switch len(names) {
	case 0:
		return nil, nil
	case 1:
		return room.Open(names[0])
	default:
		return nil, fmt.Errorf("multiple room platforms registered (%v), pass -room", names)
	}
}

// buildProviders constructs the session backends from config.
func buildProviders(cfg *config.Config, platform room.Platform) (worker.Providers, error) {
	primary := func() (stt.Provider, error) {
		return funasr.New(cfg.Recognizer.Host, cfg.Recognizer.Port,
			funasr.WithMode(string(cfg.Recognizer.Mode)))
	}
	fallback := func() (stt.Provider, error) {
		opts := []oastt.Option{oastt.WithTimeout(cfg.Recognizer.ProbeTimeout + 30*time.Second)}
		if cfg.Recognizer.FallbackBaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(cfg.Recognizer.FallbackBaseURL))
		}
		return oastt.New(cfg.Recognizer.FallbackAPIKey, cfg.Recognizer.FallbackModel, opts...)
	}

	var libOpts []anyllmlib.Option
	if cfg.LLM.APIKey != "" {
		libOpts = append(libOpts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
	}
	var llmOpts []anyllm.Option
	if cfg.LLM.Temperature != nil {
		llmOpts = append(llmOpts, anyllm.WithTemperature(*cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens != nil {
		llmOpts = append(llmOpts, anyllm.WithMaxTokens(*cfg.LLM.MaxTokens))
	}
	llmProvider, err := anyllm.New(cfg.LLM.Backend, cfg.LLM.Model, libOpts, llmOpts...)
	if err != nil {
		return worker.Providers{}, fmt.Errorf("llm: %w", err)
	}

	return worker.Providers{
		Platform:    platform,
		PrimarySTT:  primary,
		FallbackSTT: fallback,
		LLM:         llmProvider,
		TTS:         newTTS(cfg),
		DetectorLoader: func() (vad.Detector, error) {
			return energy.New(), nil
		},
	}, nil
}

func newTTS(cfg *config.Config) tts.Provider {
	return edge.New(edge.WithConnectTimeout(cfg.Speech.Timeout))
}

// attachContent opens the PostgreSQL pool and wires the content catalog into
// the worker.
func attachContent(ctx context.Context, cfg *config.Config, w *worker.Worker) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Content.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}

	key := cfg.Content.EmbeddingAPIKey
	if key == "" {
		key = cfg.Recognizer.FallbackAPIKey
	}
	embedder, err := oaembed.New(key, cfg.Content.EmbeddingModel)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	store, err := pgstore.New(pool, embedder, slog.Default())
	if err != nil {
		pool.Close()
		return nil, err
	}
	urls := &content.URLBuilder{
		DirectBase: cfg.Content.DirectBase,
		CDNBase:    cfg.Content.CDNBase,
		UseCDN:     cfg.Content.UseCDN,
	}
	if err := w.AttachContent(store, urls); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("content store attached", "embedding_model", cfg.Content.EmbeddingModel)
	return pool, nil
}

// noticeClips are the canned lines synthesized into the notice directory at
// startup. Existing files short-circuit, so the network cost is paid once.
var noticeClips = map[string]string{
	"net_err.mp3": "网络连接失败，请稍后再试。",
	"welcome.mp3": "你好呀，我在听。",
}

// prepareNotices synthesizes the failure-notice clips through the fallback
// chain. A fully failed clip is degraded mode, not a startup failure.
func prepareNotices(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) {
	dir := cfg.Speech.NoticeDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("notice directory not writable", "dir", dir, "err", err)
		return
	}

	chain := notice.NewChain(slog.Default(),
		&notice.TTSStrategy{
			Provider: newTTS(cfg),
			Params: tts.VoiceParams{
				Voice:  cfg.Speech.Voice,
				Rate:   cfg.Speech.Rate,
				Volume: cfg.Speech.Volume,
				Pitch:  cfg.Speech.Pitch,
			},
		},
		&notice.CommandStrategy{
			Binary: "espeak-ng",
			Args:   []string{"-w", "{output}", "{message}"},
		},
		&notice.SilentClipStrategy{},
	)

	for name, message := range noticeClips {
		res, err := chain.SynthesizeNotice(ctx, message, filepath.Join(dir, name))
		if err != nil {
			slog.Warn("notice clip unavailable", "clip", name, "err", err)
			continue
		}
		if res.Strategy != "" && metrics != nil {
			metrics.RecordNoticeFallback(ctx, res.Strategy)
		}
	}
}

// ── Session admin API ─────────────────────────────────────────────────────────

type sessionsAPI struct {
	worker *worker.Worker
}

func (a *sessionsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", a.create)
	mux.HandleFunc("DELETE /sessions/{id}", a.remove)
	mux.HandleFunc("GET /sessions", a.list)
}

func (a *sessionsAPI) create(w http.ResponseWriter, r *http.Request) {
	if a.worker == nil {
		http.Error(w, "no room platform configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	id, err := a.worker.StartSession(context.WithoutCancel(r.Context()), req.RoomID, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"session_id": id})
}

func (a *sessionsAPI) remove(w http.ResponseWriter, r *http.Request) {
	if a.worker == nil {
		http.Error(w, "no room platform configured", http.StatusServiceUnavailable)
		return
	}
	a.worker.StopSession(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *sessionsAPI) list(w http.ResponseWriter, r *http.Request) {
	active := 0
	if a.worker != nil {
		active = a.worker.ActiveSessions()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"active": active})
}

func printStartupSummary(cfg *config.Config, sessions, contentStore bool) {
	slog.Info("configuration summary",
		"recognizer", fmt.Sprintf("%s:%d (%s)", cfg.Recognizer.Host, cfg.Recognizer.Port, cfg.Recognizer.Mode),
		"fallback_model", cfg.Recognizer.FallbackModel,
		"llm", fmt.Sprintf("%s/%s", cfg.LLM.Backend, cfg.LLM.Model),
		"voice", cfg.Speech.Voice,
		"max_sessions", cfg.Worker.MaxSessions,
		"sessions_enabled", sessions,
		"content_enabled", contentStore,
	)
}
