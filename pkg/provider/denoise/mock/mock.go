// Package mock provides test doubles for the denoise package interfaces.
package mock

import (
	"sync"

	"github.com/MrWong99/voxpipe/pkg/provider/denoise"
)

// Backend is a mock implementation of denoise.Backend that hands out
// [Model] values.
type Backend struct {
	mu sync.Mutex

	// Model is returned by Load. If nil, Load returns a fresh passthrough Model.
	Model *Model

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// LoadCalls records the path of every Load call.
	LoadCalls []string
}

// Load implements denoise.Backend.
func (b *Backend) Load(path string) (denoise.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCalls = append(b.LoadCalls, path)
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	if b.Model == nil {
		b.Model = &Model{}
	}
	return b.Model, nil
}

// LoadCount returns the number of Load calls. Thread-safe.
func (b *Backend) LoadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.LoadCalls)
}

var _ denoise.Backend = (*Backend)(nil)

// Model is a mock denoise.Model. By default it scales samples by Gain
// (1 when zero) and keeps the rate.
type Model struct {
	mu sync.Mutex

	// Gain multiplies every sample.
	Gain float32

	// OutputRate, when non-zero, is reported as the output sample rate.
	OutputRate int

	// ProcessErr, if non-nil, is returned by Process.
	ProcessErr error

	// ProcessCalls counts Process invocations.
	ProcessCalls int

	// Closed reports whether Close was called.
	Closed bool
}

// Process implements denoise.Model.
func (m *Model) Process(samples []float32, rate int) ([]float32, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessCalls++
	if m.ProcessErr != nil {
		return nil, 0, m.ProcessErr
	}
	gain := m.Gain
	if gain == 0 {
		gain = 1
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	if m.OutputRate != 0 {
		rate = m.OutputRate
	}
	return out, rate, nil
}

// Close implements denoise.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

var _ denoise.Model = (*Model)(nil)
