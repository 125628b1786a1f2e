package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Environment variable names recognised by [ApplyEnv]. Every key is optional;
// unset or malformed values leave the existing config value in place.
const (
	EnvRecognizerHost = "BUNNY_RECOGNIZER_HOST"
	EnvRecognizerPort = "BUNNY_RECOGNIZER_PORT"
	EnvRecognizerMode = "BUNNY_RECOGNIZER_MODE"
	EnvLanguage       = "BUNNY_LANGUAGE"
	EnvITN            = "BUNNY_ITN"
	EnvFallbackModel  = "BUNNY_FALLBACK_STT_MODEL"
	EnvFallbackAPIKey = "BUNNY_FALLBACK_STT_API_KEY"

	EnvLLMBackend = "BUNNY_LLM_BACKEND"
	EnvLLMModel   = "BUNNY_LLM_MODEL"
	EnvLLMAPIKey  = "BUNNY_LLM_API_KEY"

	EnvVoice  = "BUNNY_TTS_VOICE"
	EnvRate   = "BUNNY_TTS_RATE"
	EnvVolume = "BUNNY_TTS_VOLUME"
	EnvPitch  = "BUNNY_TTS_PITCH"

	EnvListenAddr  = "BUNNY_LISTEN_ADDR"
	EnvLogLevel    = "BUNNY_LOG_LEVEL"
	EnvLogFile     = "BUNNY_LOG_FILE"
	EnvDatabaseDSN = "BUNNY_DATABASE_DSN"
	EnvUseCDN      = "BUNNY_USE_CDN"
	EnvMaxSessions = "BUNNY_MAX_SESSIONS"
)

// ApplyEnv overlays BUNNY_* environment variables onto cfg. Environment
// values win over YAML values; malformed numbers and booleans are ignored
// rather than failing startup.
func ApplyEnv(cfg *Config) {
	setString(EnvRecognizerHost, &cfg.Recognizer.Host)
	setInt(EnvRecognizerPort, &cfg.Recognizer.Port)
	if v := os.Getenv(EnvRecognizerMode); v != "" {
		cfg.Recognizer.Mode = RecognizerMode(v)
	}
	setString(EnvLanguage, &cfg.Recognizer.Language)
	if v := os.Getenv(EnvITN); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Recognizer.ITN = &b
		}
	}
	setString(EnvFallbackModel, &cfg.Recognizer.FallbackModel)
	setString(EnvFallbackAPIKey, &cfg.Recognizer.FallbackAPIKey)

	setString(EnvLLMBackend, &cfg.LLM.Backend)
	setString(EnvLLMModel, &cfg.LLM.Model)
	setString(EnvLLMAPIKey, &cfg.LLM.APIKey)

	setString(EnvVoice, &cfg.Speech.Voice)
	setString(EnvRate, &cfg.Speech.Rate)
	setString(EnvVolume, &cfg.Speech.Volume)
	setString(EnvPitch, &cfg.Speech.Pitch)

	setString(EnvListenAddr, &cfg.Server.ListenAddr)
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	setString(EnvLogFile, &cfg.Server.LogFile)
	setString(EnvDatabaseDSN, &cfg.Content.DatabaseDSN)
	if v := os.Getenv(EnvUseCDN); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Content.UseCDN = b
		}
	}
	setInt(EnvMaxSessions, &cfg.Worker.MaxSessions)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// SlogLevel converts the configured LogLevel to its slog equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
