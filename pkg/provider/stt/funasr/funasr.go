// Package funasr provides an STT provider backed by a self-hosted FunASR
// runtime server using its offline WebSocket protocol. It implements the
// stt.Provider interface.
//
// The offline protocol is a single round-trip per segment: an opening JSON
// frame declaring the recognition mode, binary PCM frames, a closing JSON
// frame with is_speaking=false, and finally one JSON result frame carrying
// the transcript.
package funasr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/stt"
)

const (
	defaultMode       = "offline"
	defaultSampleRate = 16000

	// chunkBytes is the size of each binary PCM frame sent to the server.
	// 9600 bytes = 300 ms of 16 kHz mono 16-bit audio.
	chunkBytes = 9600

	// resultTimeout bounds the wait for the final result frame after the
	// closing frame has been sent.
	resultTimeout = 30 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithMode sets the FunASR decoding mode ("offline" or "2pass").
// Defaults to "offline".
func WithMode(mode string) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithSecure makes the provider dial wss:// instead of ws://. Use when the
// server sits behind TLS.
func WithSecure() Option {
	return func(p *Provider) { p.scheme = "wss" }
}

// Provider implements stt.Provider against a FunASR runtime server.
type Provider struct {
	host   string
	port   int
	scheme string
	mode   string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider for the FunASR server at host:port.
func New(host string, port int, opts ...Option) (*Provider, error) {
	if host == "" {
		return nil, errors.New("funasr: host must not be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("funasr: port %d out of range", port)
	}
	p := &Provider{
		host:   host,
		port:   port,
		scheme: "ws",
		mode:   defaultMode,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// openFrame is the JSON frame that opens an offline recognition exchange.
type openFrame struct {
	Mode      string `json:"mode"`
	WavName   string `json:"wav_name"`
	WavFormat string `json:"wav_format"`
	Speaking  bool   `json:"is_speaking"`
	ITN       bool   `json:"itn"`
	Rate      int    `json:"audio_fs"`
	ChunkSize []int  `json:"chunk_size"`
}

// closeFrame signals the end of audio for the current segment.
type closeFrame struct {
	Speaking bool `json:"is_speaking"`
}

// resultFrame is the JSON frame the server sends once decoding finishes.
type resultFrame struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Mode    string `json:"mode"`
}

// Transcribe implements stt.Provider. It dials the server, streams the whole
// segment, and blocks until the result frame arrives or ctx is cancelled.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, cfg stt.Config) (string, error) {
	u := url.URL{Scheme: p.scheme, Host: p.host + ":" + strconv.Itoa(p.port)}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("funasr: dial %s: %w", u.String(), err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "segment done")

	rate := cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}

	open := openFrame{
		Mode:      p.mode,
		WavName:   "segment",
		WavFormat: "pcm",
		Speaking:  true,
		ITN:       cfg.ITN,
		Rate:      rate,
		ChunkSize: []int{5, 10, 5},
	}
	if err := writeJSON(ctx, conn, open); err != nil {
		return "", fmt.Errorf("funasr: send open frame: %w", err)
	}

	// Stream the segment as fixed-size binary frames.
	buf := make([]byte, chunkBytes)
	for {
		n, readErr := audio.Read(buf)
		if n > 0 {
			if err := conn.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
				return "", fmt.Errorf("funasr: send audio: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("funasr: read segment: %w", readErr)
		}
	}

	if err := writeJSON(ctx, conn, closeFrame{Speaking: false}); err != nil {
		return "", fmt.Errorf("funasr: send close frame: %w", err)
	}

	// Wait for the final result frame. Intermediate 2-pass frames are
	// skipped until is_final is set (offline mode sends exactly one).
	resultCtx, cancel := context.WithTimeout(ctx, resultTimeout)
	defer cancel()
	for {
		_, data, err := conn.Read(resultCtx)
		if err != nil {
			return "", fmt.Errorf("funasr: read result: %w", err)
		}
		var res resultFrame
		if err := json.Unmarshal(data, &res); err != nil {
			return "", fmt.Errorf("funasr: decode result: %w", err)
		}
		if p.mode == defaultMode || res.IsFinal {
			return res.Text, nil
		}
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
