// Package config provides the configuration schema, YAML loader, and
// environment overrides for the bunnyd voice-assistant runtime.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RecognizerMode selects the FunASR decoding mode.
type RecognizerMode string

const (
	ModeOffline RecognizerMode = "offline"
	Mode2Pass   RecognizerMode = "2pass"
	ModeOnline  RecognizerMode = "online"
)

// IsValid reports whether m is a recognised mode.
func (m RecognizerMode) IsValid() bool {
	switch m {
	case ModeOffline, Mode2Pass, ModeOnline:
		return true
	}
	return false
}

// Config is the root configuration structure, loaded from a YAML file via
// [Load] and overridden by BUNNY_* environment variables via [ApplyEnv].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	LLM        LLMConfig        `yaml:"llm"`
	Speech     SpeechConfig     `yaml:"speech"`
	VAD        VADConfig        `yaml:"vad"`
	Content    ContentConfig    `yaml:"content"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (health, metrics)
	// listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile is the JSON log file path. Empty disables file logging.
	LogFile string `yaml:"log_file"`
}

// RecognizerConfig configures the primary network-hosted recognizer and the
// API-hosted fallback.
type RecognizerConfig struct {
	// Host of the FunASR server. Default "127.0.0.1".
	Host string `yaml:"host"`

	// Port of the FunASR server. Default 10095.
	Port int `yaml:"port"`

	// Mode is the FunASR decoding mode. Default "offline".
	Mode RecognizerMode `yaml:"mode"`

	// ProbeTimeout bounds the session-start reachability check.
	// Default 3s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Language is the BCP-47 language code for transcription.
	// Default "zh-CN".
	Language string `yaml:"language"`

	// ITN enables inverse text normalization. Default true.
	ITN *bool `yaml:"itn"`

	// FallbackModel is the API transcription model used when the primary is
	// unavailable. Default "whisper-1".
	FallbackModel string `yaml:"fallback_model"`

	// FallbackAPIKey authenticates against the API-hosted recognizer.
	FallbackAPIKey string `yaml:"fallback_api_key"`

	// FallbackBaseURL overrides the API endpoint.
	FallbackBaseURL string `yaml:"fallback_base_url"`
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	// Backend names the provider ("openai", "anthropic", "gemini", "ollama",
	// "deepseek", "mistral", "groq"). Default "openai".
	Backend string `yaml:"backend"`

	// Model is the model identifier. Default "gpt-4o-mini".
	Model string `yaml:"model"`

	// APIKey authenticates against the backend.
	APIKey string `yaml:"api_key"`

	// SystemPrompt seeds every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature, when set, overrides the backend default.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens, when set, caps response length.
	MaxTokens *int `yaml:"max_tokens"`

	// Timeout bounds one response. Default 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// SpeechConfig configures speech synthesis.
type SpeechConfig struct {
	// Voice is the synthesis voice name. Default "zh-CN-XiaoyiNeural".
	Voice string `yaml:"voice"`

	// Rate is the speaking-rate adjustment in signed percent ("+0%").
	Rate string `yaml:"rate"`

	// Volume is the volume adjustment in signed percent ("+0%").
	Volume string `yaml:"volume"`

	// Pitch is the pitch adjustment in signed Hz ("+0Hz").
	Pitch string `yaml:"pitch"`

	// Timeout bounds one synthesis request. Default 20s.
	Timeout time.Duration `yaml:"timeout"`

	// NoticeDir is where fallback notice clips are written.
	// Default os.TempDir().
	NoticeDir string `yaml:"notice_dir"`
}

// VADConfig is the voice-activity detector tuning surface.
type VADConfig struct {
	// SampleRate of the analysed audio in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// MinSpeechDuration is the shortest run of speech that opens a segment.
	// Default 200ms.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// MinSilenceDuration is the silence run that closes a segment.
	// Default 500ms.
	MinSilenceDuration time.Duration `yaml:"min_silence_duration"`

	// ActivationThreshold is the speech probability threshold in [0, 1].
	// Default 0.5.
	ActivationThreshold float64 `yaml:"activation_threshold"`

	// PrefixPadding is how much audio before segment start is kept.
	// Default 300ms.
	PrefixPadding time.Duration `yaml:"prefix_padding"`

	// MaxBufferedSpeech force-closes a segment that grows past this length.
	// Default 60s.
	MaxBufferedSpeech time.Duration `yaml:"max_buffered_speech"`
}

// ContentConfig configures the content search features.
type ContentConfig struct {
	// DatabaseDSN is the PostgreSQL connection string. Empty disables
	// content search.
	DatabaseDSN string `yaml:"database_dsn"`

	// EmbeddingModel is the embeddings model identifier.
	// Default "text-embedding-3-small".
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingAPIKey authenticates against the embeddings backend. Falls
	// back to the recognizer fallback key when empty.
	EmbeddingAPIKey string `yaml:"embedding_api_key"`

	// DirectBase is the direct storage URL prefix for content files.
	DirectBase string `yaml:"direct_base"`

	// CDNBase is the CDN URL prefix preferred when UseCDN is set.
	CDNBase string `yaml:"cdn_base"`

	// UseCDN selects CDNBase over DirectBase.
	UseCDN bool `yaml:"use_cdn"`

	// CategoriesMaxAge bounds metadata cache freshness. Default 10m.
	CategoriesMaxAge time.Duration `yaml:"categories_max_age"`
}

// WorkerConfig tunes the session pool.
type WorkerConfig struct {
	// MaxSessions bounds concurrent sessions. Default 8.
	MaxSessions int `yaml:"max_sessions"`

	// TurnFailureThreshold is how many consecutive turn failures on one
	// stage end the session. Default 3.
	TurnFailureThreshold int `yaml:"turn_failure_threshold"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	itn := true
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Recognizer: RecognizerConfig{
			Host:          "127.0.0.1",
			Port:          10095,
			Mode:          ModeOffline,
			ProbeTimeout:  3 * time.Second,
			Language:      "zh-CN",
			ITN:           &itn,
			FallbackModel: "whisper-1",
		},
		LLM: LLMConfig{
			Backend: "openai",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Speech: SpeechConfig{
			Voice:   "zh-CN-XiaoyiNeural",
			Rate:    "+0%",
			Volume:  "+0%",
			Pitch:   "+0Hz",
			Timeout: 20 * time.Second,
		},
		VAD: VADConfig{
			SampleRate:          16000,
			MinSpeechDuration:   200 * time.Millisecond,
			MinSilenceDuration:  500 * time.Millisecond,
			ActivationThreshold: 0.5,
			PrefixPadding:       300 * time.Millisecond,
			MaxBufferedSpeech:   60 * time.Second,
		},
		Content: ContentConfig{
			EmbeddingModel:   "text-embedding-3-small",
			CategoriesMaxAge: 10 * time.Minute,
		},
		Worker: WorkerConfig{
			MaxSessions:          8,
			TurnFailureThreshold: 3,
		},
	}
}
