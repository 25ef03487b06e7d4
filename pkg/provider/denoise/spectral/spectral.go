// Package spectral implements a local noise-suppression backend for the
// denoise stage.
//
// Its "model weights" are a YAML noise profile describing the noise floor and
// the gate dynamics. Processing estimates windowed energy, attenuates windows
// that sit at the noise floor and smooths the gain with attack and release
// envelopes so that speech onsets are not clipped.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/denoise"
)

var (
	_ denoise.Backend = Backend{}
	_ denoise.Model   = (*Model)(nil)
)

// Profile is the on-disk noise profile.
type Profile struct {
	// SampleRate is the rate the model outputs. Zero keeps the input rate.
	SampleRate int `yaml:"sample_rate"`

	// WindowMs is the analysis window length. Default: 10.
	WindowMs int `yaml:"window_ms"`

	// NoiseFloor is the RMS of the background noise. Zero estimates it from
	// the quietest tenth of each recording.
	NoiseFloor float64 `yaml:"noise_floor"`

	// Threshold multiplies the noise floor to obtain the gate opening level.
	// Default: 2.
	Threshold float64 `yaml:"threshold"`

	// ReductionDB is the attenuation applied to gated windows. Default: 18.
	ReductionDB float64 `yaml:"reduction_db"`

	// AttackMs and ReleaseMs are the gain envelope time constants.
	AttackMs  float64 `yaml:"attack_ms"`
	ReleaseMs float64 `yaml:"release_ms"`
}

func (p *Profile) applyDefaults() {
	if p.WindowMs <= 0 {
		p.WindowMs = 10
	}
	if p.Threshold <= 0 {
		p.Threshold = 2
	}
	if p.ReductionDB <= 0 {
		p.ReductionDB = 18
	}
	if p.AttackMs <= 0 {
		p.AttackMs = 5
	}
	if p.ReleaseMs <= 0 {
		p.ReleaseMs = 80
	}
}

func (p *Profile) validate() error {
	var errs []error
	if p.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must not be negative", p.SampleRate))
	}
	if p.NoiseFloor < 0 || p.NoiseFloor >= 1 {
		errs = append(errs, fmt.Errorf("noise_floor %v out of range [0, 1)", p.NoiseFloor))
	}
	return errors.Join(errs...)
}

// Backend loads [Profile] files.
type Backend struct{}

// Load implements [denoise.Backend].
func (Backend) Load(path string) (denoise.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spectral: read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("spectral: decode profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("spectral: invalid profile: %w", err)
	}
	p.applyDefaults()
	return &Model{profile: p}, nil
}

// Model is a loaded noise gate.
type Model struct {
	profile Profile
}

// NewModel returns a Model for an in-memory profile.
func NewModel(p Profile) *Model {
	p.applyDefaults()
	return &Model{profile: p}
}

// Process implements [denoise.Model].
func (m *Model) Process(samples []float32, rate int) ([]float32, int, error) {
	if rate <= 0 {
		return nil, 0, fmt.Errorf("spectral: invalid sample rate %d", rate)
	}
	out := make([]float32, len(samples))
	if len(samples) == 0 {
		return out, m.outputRate(rate), nil
	}

	win := max(rate*m.profile.WindowMs/1000, 1)
	windows := (len(samples) + win - 1) / win
	levels := make([]float64, windows)
	for w := range windows {
		end := min((w+1)*win, len(samples))
		levels[w] = audio.RMS(samples[w*win : end])
	}

	floor := m.profile.NoiseFloor
	if floor == 0 {
		floor = estimateFloor(levels)
	}
	open := floor * m.profile.Threshold
	closed := math.Pow(10, -m.profile.ReductionDB/20)

	attack := envelopeCoeff(m.profile.AttackMs, rate)
	release := envelopeCoeff(m.profile.ReleaseMs, rate)

	gain := closed
	if levels[0] > open {
		gain = 1
	}
	for i, s := range samples {
		target := closed
		if levels[i/win] > open {
			target = 1
		}
		coeff := release
		if target > gain {
			coeff = attack
		}
		gain = target + coeff*(gain-target)
		out[i] = s * float32(gain)
	}

	outRate := m.outputRate(rate)
	return audio.Resample(out, rate, outRate), outRate, nil
}

func (m *Model) outputRate(in int) int {
	if m.profile.SampleRate > 0 {
		return m.profile.SampleRate
	}
	return in
}

// Close implements [denoise.Model].
func (m *Model) Close() error { return nil }

// estimateFloor returns the 10th percentile of window levels.
func estimateFloor(levels []float64) float64 {
	sorted := slices.Clone(levels)
	slices.Sort(sorted)
	return sorted[len(sorted)/10]
}

// envelopeCoeff converts a time constant into a one-pole smoothing factor.
func envelopeCoeff(ms float64, rate int) float64 {
	return math.Exp(-1 / (ms / 1000 * float64(rate)))
}
