// Package denoise provides the optional noise-suppression stage of the
// pipeline.
//
// A [Service] owns one locally loaded noise-suppression model and maps whole
// recordings to cleaned recordings. The model is loaded from a path on disk by
// a pluggable [Backend]; loading happens at most once per Service and access
// to the model is serialized, so the Service can be shared process-wide.
//
// The returned buffer may differ in length and sample rate from the input.
// Callers must propagate whatever rate comes back rather than assume it.
package denoise

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

var (
	// ErrModelNotFound is returned by Initialize when the weights file does
	// not exist.
	ErrModelNotFound = errors.New("denoise: model not found")

	// ErrInitializationFailed is returned when the backend rejects the weights.
	ErrInitializationFailed = errors.New("denoise: initialization failed")

	// ErrNotInitialized is returned by Denoise when no model could be loaded.
	ErrNotInitialized = errors.New("denoise: not initialized")

	// ErrProcessingFailed wraps backend processing errors.
	ErrProcessingFailed = errors.New("denoise: processing failed")
)

// Model is a loaded noise-suppression model.
type Model interface {
	// Process returns cleaned samples and their sample rate. It must not
	// modify samples.
	Process(samples []float32, sampleRate int) ([]float32, int, error)

	// Close releases the model.
	Close() error
}

// Backend loads noise-suppression models.
type Backend interface {
	Load(path string) (Model, error)
}

// Service is the denoiser. It is safe for concurrent use; concurrent Denoise
// calls queue on the model.
type Service struct {
	backend Backend
	path    string

	mu    sync.Mutex
	model Model
}

// New creates a Service that loads its model from path via backend.
func New(backend Backend, path string) *Service {
	return &Service{backend: backend, path: path}
}

// Initialize loads the model. A second call after success is a no-op.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Service) initLocked() error {
	if s.model != nil {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &voice.ModelError{Model: s.path, Err: ErrModelNotFound}
		}
		return &voice.ModelError{Model: s.path, Err: fmt.Errorf("%w: %w", ErrInitializationFailed, err)}
	}
	m, err := s.backend.Load(s.path)
	if err != nil {
		return &voice.ModelError{Model: s.path, Err: fmt.Errorf("%w: %w", ErrInitializationFailed, err)}
	}
	s.model = m
	return nil
}

// Initialized reports whether the model is loaded.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model != nil
}

// Denoise returns a cleaned copy of buf, loading the model on first use. The
// input buffer is never modified.
func (s *Service) Denoise(buf audio.Buffer) (audio.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	out, rate, err := s.model.Process(buf.Samples, buf.SampleRate)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	return audio.Buffer{Samples: out, SampleRate: rate}, nil
}

// Close releases the model. The Service may be initialized again afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}
