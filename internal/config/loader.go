package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error: defaults plus environment overrides are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			if err := decodeInto(cfg, f); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Recognizer.Host == "" {
		errs = append(errs, errors.New("recognizer.host must not be empty"))
	}
	if cfg.Recognizer.Port <= 0 || cfg.Recognizer.Port > 65535 {
		errs = append(errs, fmt.Errorf("recognizer.port %d is out of range", cfg.Recognizer.Port))
	}
	if !cfg.Recognizer.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("recognizer.mode %q is invalid; valid values: offline, 2pass, online", cfg.Recognizer.Mode))
	}
	if cfg.LLM.Backend == "" {
		errs = append(errs, errors.New("llm.backend must not be empty"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model must not be empty"))
	}
	if t := cfg.VAD.ActivationThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vad.activation_threshold %v is outside [0, 1]", t))
	}
	if cfg.VAD.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad.sample_rate %d must be positive", cfg.VAD.SampleRate))
	}
	if cfg.Worker.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_sessions %d must be positive", cfg.Worker.MaxSessions))
	}
	if cfg.Worker.TurnFailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("worker.turn_failure_threshold %d must be positive", cfg.Worker.TurnFailureThreshold))
	}
	if cfg.Content.UseCDN && cfg.Content.CDNBase == "" && cfg.Content.DirectBase == "" {
		errs = append(errs, errors.New("content.use_cdn is set but neither cdn_base nor direct_base is configured"))
	}

	return errors.Join(errs...)
}
