// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	reply, err := p.Respond(ctx, conversation)
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
}

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTemperature sets the sampling temperature. Zero leaves the backend
// default in place.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithMaxTokens caps the reply length in completion tokens.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates a Provider backed by the given LLM backend name.
//
// backendName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". model is the specific model identifier
// (e.g., "gpt-4o-mini", "qwen2.5:7b"). libOpts are any-llm-go configuration
// options (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); without an API key
// option the backend falls back to its environment variable.
func New(backendName, model string, libOpts []anyllmlib.Option, opts ...Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	p := &Provider{backend: backend, model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", name)
	}
}

// Respond implements llm.Provider.
func (p *Provider) Respond(ctx context.Context, conversation []llm.Message) (string, error) {
	if len(conversation) == 0 {
		return "", fmt.Errorf("anyllm: conversation must not be empty")
	}

	messages := make([]anyllmlib.Message, len(conversation))
	for i, m := range conversation {
		messages[i] = anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.temperature != 0 {
		t := p.temperature
		params.Temperature = &t
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
