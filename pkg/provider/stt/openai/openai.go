// Package openai provides an API-hosted STT provider backed by the OpenAI
// audio transcriptions endpoint. It implements the stt.Provider interface and
// serves as the fallback recognizer when a self-hosted server is unreachable.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
)

// DefaultModel is the default transcription model.
const DefaultModel = "whisper-1"

const defaultSampleRate = 16000

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default API base URL. Use this to point at an
// OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an API-hosted STT Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Transcribe implements stt.Provider. The PCM segment is wrapped in a WAV
// container (the endpoint accepts files, not raw sample streams) and
// submitted as a single batch request.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, cfg stt.Config) (string, error) {
	pcm, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("openai stt: read segment: %w", err)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wrapWAV(pcm, rate)), "segment.wav", "audio/wav"),
	}
	if cfg.Language != "" {
		// The endpoint takes ISO-639-1 codes; strip a region subtag if present.
		params.Language = param.NewOpt(baseLanguage(cfg.Language))
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return res.Text, nil
}

// baseLanguage reduces a BCP-47 tag to its primary subtag ("zh-CN" → "zh").
func baseLanguage(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' {
			return tag[:i]
		}
	}
	return tag
}

// wrapWAV prepends a RIFF/WAVE header describing 16-bit mono PCM at rate Hz.
func wrapWAV(pcm []byte, rate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := rate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(rate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
