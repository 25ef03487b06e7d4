// Package multipart implements synchronous cloud transcription APIs that take
// a single multipart/form-data POST and answer with {"text": "..."}.
//
// OpenAI-compatible Whisper endpoints, ElevenLabs, GLM and self-hosted
// whisper.cpp servers all share this shape and differ only in the details
// captured by [Variant].
package multipart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// fileName is the name the audio part is uploaded under.
const fileName = "audio.wav"

var _ stt.Provider = (*Provider)(nil)

// Provider is a synchronous multipart transcription client.
type Provider struct {
	variant Variant
	apiKey  string
	model   string
	client  *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithModel overrides the variant's default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEndpoint overrides the variant's endpoint URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.variant.Endpoint = url }
}

// WithTimeout overrides the variant's request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.variant.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Its Timeout is overwritten with
// the variant's.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider for variant.
func New(variant Variant, opts ...Option) (*Provider, error) {
	p := &Provider{variant: variant, client: &http.Client{}}
	for _, o := range opts {
		o(p)
	}
	if p.variant.Endpoint == "" {
		return nil, fmt.Errorf("multipart: %s: endpoint must not be empty", variant.Name)
	}
	if p.variant.AuthHeader != "" && p.apiKey == "" {
		return nil, fmt.Errorf("multipart: %s: api key must not be empty", variant.Name)
	}
	if p.model == "" {
		p.model = p.variant.DefaultModel
	}
	if p.variant.ModelField != "" && p.model == "" {
		return nil, fmt.Errorf("multipart: %s: model must not be empty", variant.Name)
	}
	client := *p.client
	client.Timeout = p.variant.Timeout
	p.client = &client
	return p, nil
}

// Name returns the variant name.
func (p *Provider) Name() string { return p.variant.Name }

// Capabilities implements [stt.Provider].
func (p *Provider) Capabilities() stt.Capabilities {
	return stt.Capabilities{NeedsFile: true, AnalyzeSilence: true}
}

// Transcribe implements [stt.Provider]. The WAV file at req.File is uploaded
// when set; otherwise req.Audio is encoded in memory.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	wav, err := wavPayload(req)
	if err != nil {
		return "", err
	}

	body, contentType, err := p.form(wav, req.Language)
	if err != nil {
		return "", fmt.Errorf("multipart: build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.variant.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("multipart: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if p.variant.AuthHeader != "" {
		httpReq.Header.Set(p.variant.AuthHeader, p.variant.AuthPrefix+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", stt.TransportError(ctx, "POST "+p.variant.Name, err)
	}
	defer resp.Body.Close()

	if err := stt.CheckResponse(resp); err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &voice.ServerError{Message: "malformed response: " + err.Error()}
	}
	return out.Text, nil
}

// form writes the multipart body. Fields come before the file part.
func (p *Provider) form(wav []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := make(map[string]string, len(p.variant.ExtraFields)+2)
	for k, v := range p.variant.ExtraFields {
		fields[k] = v
	}
	if p.variant.ModelField != "" {
		fields[p.variant.ModelField] = p.model
	}
	if p.variant.LanguageField != "" && language != "" {
		fields[p.variant.LanguageField] = language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// wavPayload returns the bytes of the 16 kHz mono WAV to upload.
func wavPayload(req stt.Request) ([]byte, error) {
	if req.File != "" {
		data, err := os.ReadFile(req.File)
		if err != nil {
			return nil, fmt.Errorf("multipart: read audio file: %w", err)
		}
		return data, nil
	}
	if req.Audio.Len() == 0 {
		return nil, voice.ErrEmptyAudio
	}
	wav, err := audio.WAVBytes(req.Audio, audio.DefaultSampleRate)
	if err != nil {
		return nil, fmt.Errorf("multipart: encode wav: %w", err)
	}
	return wav, nil
}

// ErrUnknownVariant is returned by [Lookup] for unknown preset names.
var ErrUnknownVariant = errors.New("multipart: unknown variant")

// Lookup returns the preset named name.
func Lookup(name string) (Variant, error) {
	v, ok := Presets[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}
