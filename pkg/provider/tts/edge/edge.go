// Package edge provides a TTS provider backed by the Microsoft Edge read-aloud
// WebSocket service. It implements the tts.Provider interface.
//
// The service is free-tier and keyless, which makes it the default synthesis
// path; audio arrives as MP3 chunks inside binary frames whose payload starts
// after a "Path:audio" header block.
package edge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	trustedToken    = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	// DefaultVoice is used when VoiceParams.Voice is empty.
	DefaultVoice = "zh-CN-XiaoyiNeural"

	outputFormat = "audio-24khz-48kbitrate-mono-mp3"

	// audioHeaderMarker separates the text headers from the MP3 payload in
	// binary frames. The payload begins after this marker.
	audioHeaderMarker = "Path:audio\r\n"

	// turnEndMarker appears in the text frame that closes a synthesis turn.
	turnEndMarker = "Path:turn.end"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the service endpoint. Useful for tests and proxies.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithConnectTimeout bounds the WebSocket dial. Defaults to 10s.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Provider) { p.connectTimeout = d }
}

// Provider implements tts.Provider against the Edge read-aloud service.
type Provider struct {
	endpoint       string
	connectTimeout time.Duration
}

var _ tts.Provider = (*Provider)(nil)

// New creates an Edge TTS Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint:       defaultEndpoint,
		connectTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Provider. It opens a fresh connection per request
// (the service closes turns aggressively, so pooling buys nothing), sends the
// speech config and SSML, and forwards audio payloads until turn.end.
func (p *Provider) Synthesize(ctx context.Context, text string, params tts.VoiceParams) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("edge: text must not be empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	wsURL := p.endpoint + "?TrustedClientToken=" + trustedToken
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}

	reqID, err := requestID()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "request id")
		return nil, fmt.Errorf("edge: request id: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, speechConfig()); err != nil {
		conn.Close(websocket.StatusInternalError, "speech config failed")
		return nil, fmt.Errorf("edge: send speech config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, ssmlMessage(reqID, text, params)); err != nil {
		conn.Close(websocket.StatusInternalError, "ssml failed")
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "turn done")

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch typ {
			case websocket.MessageBinary:
				payload := audioPayload(data)
				if len(payload) == 0 {
					continue
				}
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			case websocket.MessageText:
				if strings.Contains(string(data), turnEndMarker) {
					return
				}
			}
		}
	}()

	return out, nil
}

// speechConfig builds the one-time configuration frame for a connection.
func speechConfig() []byte {
	var sb strings.Builder
	sb.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	sb.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	sb.WriteString("Path:speech.config\r\n\r\n")
	sb.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + outputFormat + `"}}}}`)
	return []byte(sb.String())
}

// ssmlMessage builds the SSML frame for one synthesis turn.
func ssmlMessage(reqID, text string, params tts.VoiceParams) []byte {
	voice := params.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	rate := orDefault(params.Rate, "+0%")
	volume := orDefault(params.Volume, "+0%")
	pitch := orDefault(params.Pitch, "+0Hz")

	var sb strings.Builder
	sb.WriteString("X-RequestId:" + reqID + "\r\n")
	sb.WriteString("Content-Type:application/ssml+xml\r\n")
	sb.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	sb.WriteString("Path:ssml\r\n\r\n")
	sb.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US">`)
	sb.WriteString(`<voice name="` + voice + `">`)
	sb.WriteString(`<prosody pitch="` + pitch + `" rate="` + rate + `" volume="` + volume + `">`)
	sb.WriteString(escapeText(text))
	sb.WriteString(`</prosody></voice></speak>`)
	return []byte(sb.String())
}

// audioPayload extracts the MP3 payload from a binary frame, or nil when the
// frame carries no audio.
func audioPayload(frame []byte) []byte {
	idx := strings.Index(string(frame), audioHeaderMarker)
	if idx < 0 {
		return nil
	}
	return frame[idx+len(audioHeaderMarker):]
}

// escapeText escapes the XML-significant characters in text for SSML embedding.
func escapeText(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(text)
}

// orDefault returns v, or def when v is empty.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// timestamp renders the header timestamp format the service expects.
func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

// requestID generates a 32-hex-character connection-unique request id.
func requestID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
