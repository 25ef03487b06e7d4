// Package whisper provides the whisper.cpp inference engine for the local
// speech-to-text provider. It is built on the whisper.cpp CGO bindings; the
// static library (libwhisper.a) and headers (whisper.h) must be available at
// link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/local"
)

// autoLanguage asks whisper.cpp to detect the spoken language.
const autoLanguage = "auto"

var _ local.Engine = Engine{}

// Engine loads whisper.cpp ggml model files.
type Engine struct{}

// Load implements [local.Engine]. whisper.cpp embeds its vocabulary in the
// model file, so m.TokensPath is ignored.
func (Engine) Load(m local.Model) (local.Runtime, error) {
	if m.Path == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(m.Path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", m.Path, err)
	}
	return &runtime{model: model}, nil
}

// runtime is one loaded model. The local service serialises calls.
type runtime struct {
	model whisperlib.Model
}

// Transcribe runs inference on a fresh context from the shared model.
func (r *runtime) Transcribe(samples []float32, sampleRate int, language string) (string, error) {
	if sampleRate != audio.DefaultSampleRate {
		samples = audio.Resample(samples, sampleRate, audio.DefaultSampleRate)
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := setLanguage(wctx, language); err != nil {
		return "", err
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// languageSetter is the part of a whisper context that selects the language.
type languageSetter interface {
	SetLanguage(lang string) error
}

// setLanguage selects language, or auto-detection when it is empty. A
// language the model does not know falls back to auto-detection.
func setLanguage(c languageSetter, language string) error {
	if language == "" {
		language = autoLanguage
	}
	err := c.SetLanguage(language)
	if err == nil {
		return nil
	}
	if language != autoLanguage {
		slog.Warn("whisper: unsupported language, falling back to auto", "language", language, "err", err)
		err = c.SetLanguage(autoLanguage)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("whisper: set language %q: %w", autoLanguage, err)
}

func (r *runtime) Close() error {
	return r.model.Close()
}
