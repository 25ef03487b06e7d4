// Package soniox implements the Soniox asynchronous transcription API.
//
// A transcription is a job: the WAV file is uploaded, a transcription is
// created that references the upload, its status is polled until it reaches
// a terminal state, and the transcript tokens are fetched and concatenated.
// Uploaded files and finished jobs are deleted from the service afterwards on
// a best-effort basis.
package soniox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

const (
	defaultBaseURL      = "https://api.soniox.com/v1"
	defaultModel        = "stt-async-preview"
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 60
	requestTimeout      = 60 * time.Second
	cleanupTimeout      = 5 * time.Second
)

// Terminal job states. Anything else ("queued", "processing") keeps polling.
const (
	statusCompleted = "completed"
	statusError     = "error"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a Soniox async transcription client.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	client       *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the transcription model. Default: "stt-async-preview".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithPolling sets the status poll interval and the maximum number of polls.
// Defaults: 1s and 60.
func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(p *Provider) {
		p.pollInterval = interval
		p.maxAttempts = maxAttempts
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("soniox: api key must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		client:       &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	return p, nil
}

// Capabilities implements [stt.Provider].
func (p *Provider) Capabilities() stt.Capabilities {
	return stt.Capabilities{NeedsFile: true, AnalyzeSilence: true}
}

type fileResponse struct {
	ID string `json:"id"`
}

type createRequest struct {
	Model         string   `json:"model"`
	FileID        string   `json:"file_id"`
	LanguageHints []string `json:"language_hints,omitempty"`
}

type job struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type transcript struct {
	Tokens []struct {
		Text string `json:"text"`
	} `json:"tokens"`
}

// Transcribe implements [stt.Provider]. Cancelling ctx stops the job between
// polls. The remote job and upload are deleted in the background after
// Transcribe returns, so cleanup never delays the result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	wav, err := wavPayload(req)
	if err != nil {
		return "", err
	}

	fileID, err := p.upload(ctx, wav)
	if err != nil {
		return "", err
	}
	var jobID string
	defer func() { p.cleanup(ctx, jobID, fileID) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	var hints []string
	if req.Language != "" {
		hints = []string{req.Language}
	}
	var created job
	if err := p.doJSON(ctx, http.MethodPost, "/transcriptions", createRequest{
		Model:         p.model,
		FileID:        fileID,
		LanguageHints: hints,
	}, &created); err != nil {
		return "", err
	}
	jobID = created.ID

	if err := p.await(ctx, created); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	var tr transcript
	if err := p.doJSON(ctx, http.MethodGet, "/transcriptions/"+jobID+"/transcript", nil, &tr); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, tok := range tr.Tokens {
		b.WriteString(tok.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

// await polls the job until it completes, fails, or the attempt budget is
// spent.
func (p *Provider) await(ctx context.Context, j job) error {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		switch j.Status {
		case statusCompleted:
			return nil
		case statusError:
			msg := "transcription error"
			if j.ErrorMessage != "" {
				msg += ": " + j.ErrorMessage
			}
			return &voice.ServerError{Message: msg}
		}
		if attempt >= p.maxAttempts {
			return &voice.ServerError{Message: "timed out"}
		}

		timer.Reset(p.pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.doJSON(ctx, http.MethodGet, "/transcriptions/"+j.ID, nil, &j); err != nil {
			return err
		}
		slog.Debug("soniox: job status", "id", j.ID, "status", j.Status, "attempt", attempt+1)
	}
}

// upload posts the WAV to /files and returns the file id.
func (p *Provider) upload(ctx context.Context, wav []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("soniox: build upload: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("soniox: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("soniox: build upload: %w", err)
	}

	var out fileResponse
	if err := p.do(ctx, http.MethodPost, "/files", &buf, w.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &voice.ServerError{Message: "upload returned no file id"}
	}
	return out.ID, nil
}

func (p *Provider) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("soniox: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return p.do(ctx, method, path, body, contentType, out)
}

func (p *Provider) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("soniox: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return stt.TransportError(ctx, method+" "+path, err)
	}
	defer resp.Body.Close()

	if err := stt.CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &voice.ServerError{Message: "malformed response: " + err.Error()}
	}
	return nil
}

// cleanup deletes the job and the upload in a background goroutine. Both
// deletes share one cleanupTimeout budget that outlives ctx.
func (p *Provider) cleanup(ctx context.Context, jobID, fileID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	go func() {
		defer cancel()
		if jobID != "" {
			if err := p.do(cctx, http.MethodDelete, "/transcriptions/"+jobID, nil, "", nil); err != nil {
				slog.Debug("soniox: delete transcription", "id", jobID, "err", err)
			}
		}
		if err := p.do(cctx, http.MethodDelete, "/files/"+fileID, nil, "", nil); err != nil {
			slog.Debug("soniox: delete file", "id", fileID, "err", err)
		}
	}()
}

func wavPayload(req stt.Request) ([]byte, error) {
	if req.File != "" {
		data, err := os.ReadFile(req.File)
		if err != nil {
			return nil, fmt.Errorf("soniox: read audio file: %w", err)
		}
		return data, nil
	}
	if req.Audio.Len() == 0 {
		return nil, voice.ErrEmptyAudio
	}
	return audio.WAVBytes(req.Audio, audio.DefaultSampleRate)
}
