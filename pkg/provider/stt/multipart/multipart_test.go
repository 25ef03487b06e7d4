package multipart_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/multipart"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

type captured struct {
	header   http.Header
	fields   map[string]string
	fileName string
	file     []byte
}

// server answers every request with status and body and records the form.
func server(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{fields: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.header = r.Header.Clone()
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if f, fh, err := r.FormFile("file"); err == nil {
			c.fileName = fh.Filename
			c.file, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func tone() audio.Buffer {
	s := make([]float32, 1600)
	for i := range s {
		s[i] = 0.25
	}
	return audio.Buffer{Samples: s, SampleRate: 16000}
}

func TestTranscribe_Presets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		variant    multipart.Variant
		authHeader string
		authValue  string
		wantFields map[string]string
	}{
		{
			name:       "openai",
			variant:    multipart.OpenAI,
			authHeader: "Authorization",
			authValue:  "Bearer sk-test",
			wantFields: map[string]string{"model": "whisper-1", "language": "de"},
		},
		{
			name:       "elevenlabs",
			variant:    multipart.ElevenLabs,
			authHeader: "Xi-Api-Key",
			authValue:  "sk-test",
			wantFields: map[string]string{"model_id": "scribe_v1", "language_code": "de"},
		},
		{
			name:       "glm",
			variant:    multipart.GLM,
			authHeader: "Authorization",
			authValue:  "Bearer sk-test",
			wantFields: map[string]string{"model": "glm-asr", "stream": "false"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, c := server(t, http.StatusOK, `{"text":"hallo welt"}`)
			p, err := multipart.New(tt.variant, multipart.WithAPIKey("sk-test"), multipart.WithEndpoint(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			got, err := p.Transcribe(context.Background(), stt.Request{Audio: tone(), Language: "de"})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if got != "hallo welt" {
				t.Errorf("text = %q", got)
			}
			if v := c.header.Get(tt.authHeader); v != tt.authValue {
				t.Errorf("%s = %q, want %q", tt.authHeader, v, tt.authValue)
			}
			for k, want := range tt.wantFields {
				if c.fields[k] != want {
					t.Errorf("field %s = %q, want %q", k, c.fields[k], want)
				}
			}
			if c.fileName != "audio.wav" {
				t.Errorf("file name = %q", c.fileName)
			}
			if len(c.file) < 44 || string(c.file[:4]) != "RIFF" {
				t.Errorf("uploaded file is not a WAV (%d bytes)", len(c.file))
			}
		})
	}
}

func TestTranscribe_UploadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rec.wav")
	if err := audio.WriteWAVFile(path, tone(), 16000); err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(path)

	srv, c := server(t, http.StatusOK, `{"text":"ok"}`)
	p, err := multipart.New(multipart.Custom,
		multipart.WithAPIKey("k"), multipart.WithEndpoint(srv.URL), multipart.WithModel("my-model"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{File: path}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if string(c.file) != string(want) {
		t.Error("uploaded bytes differ from the file on disk")
	}
	if c.fields["model"] != "my-model" {
		t.Errorf("model = %q", c.fields["model"])
	}
	if _, ok := c.fields["language"]; ok {
		t.Error("language sent without a hint")
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	t.Run("structured error", func(t *testing.T) {
		t.Parallel()
		srv, _ := server(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`)
		p, _ := multipart.New(multipart.OpenAI, multipart.WithAPIKey("bad"), multipart.WithEndpoint(srv.URL))
		_, err := p.Transcribe(context.Background(), stt.Request{Audio: tone()})
		var se *voice.ServerError
		if !errors.As(err, &se) || se.Message != "Incorrect API key provided" {
			t.Errorf("err = %v, want ServerError", err)
		}
	})

	t.Run("bare status", func(t *testing.T) {
		t.Parallel()
		srv, _ := server(t, http.StatusBadGateway, "")
		p, _ := multipart.New(multipart.OpenAI, multipart.WithAPIKey("k"), multipart.WithEndpoint(srv.URL))
		_, err := p.Transcribe(context.Background(), stt.Request{Audio: tone()})
		var he *voice.HTTPError
		if !errors.As(err, &he) || he.StatusCode != http.StatusBadGateway {
			t.Errorf("err = %v, want HTTPError(502)", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		t.Parallel()
		srv, _ := server(t, http.StatusOK, "")
		srv.Close()
		p, _ := multipart.New(multipart.OpenAI, multipart.WithAPIKey("k"), multipart.WithEndpoint(srv.URL))
		_, err := p.Transcribe(context.Background(), stt.Request{Audio: tone()})
		if !voice.IsRetryable(err) {
			t.Errorf("err = %v, want TransportError", err)
		}
	})

	t.Run("empty audio", func(t *testing.T) {
		t.Parallel()
		p, _ := multipart.New(multipart.OpenAI, multipart.WithAPIKey("k"))
		if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, voice.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	})
}

func TestTranscribe_Timeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p, _ := multipart.New(multipart.OpenAI,
		multipart.WithAPIKey("k"), multipart.WithEndpoint(srv.URL), multipart.WithTimeout(50*time.Millisecond))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: tone()})
	if !voice.IsRetryable(err) {
		t.Errorf("err = %v, want TransportError", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (no silent retry)", hits.Load())
	}
}

func TestTranscribe_Cancelled(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	p, _ := multipart.New(multipart.OpenAI, multipart.WithAPIKey("k"), multipart.WithEndpoint(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()
	_, err := p.Transcribe(ctx, stt.Request{Audio: tone()})
	if !errors.Is(err, context.Canceled) || voice.IsRetryable(err) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := multipart.New(multipart.OpenAI); err == nil {
		t.Error("missing api key accepted")
	}
	if _, err := multipart.New(multipart.Custom, multipart.WithAPIKey("k")); err == nil {
		t.Error("custom without endpoint accepted")
	}
	if _, err := multipart.New(multipart.Custom, multipart.WithAPIKey("k"), multipart.WithEndpoint("http://x")); err == nil {
		t.Error("custom without model accepted")
	}
	if _, err := multipart.New(multipart.WhisperServer); err != nil {
		t.Errorf("whisper-server without key: %v", err)
	}
	if _, err := multipart.Lookup("nope"); !errors.Is(err, multipart.ErrUnknownVariant) {
		t.Errorf("Lookup: %v", err)
	}
}
