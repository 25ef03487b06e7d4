// Package energy implements the voice activity gate with frame RMS energy and
// hysteresis counters, plus a whole-buffer speech analyzer.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/vad"
)

var (
	_ vad.Engine         = (*Engine)(nil)
	_ vad.SessionHandle  = (*Gate)(nil)
	_ vad.BufferAnalyzer = (*Analyzer)(nil)
)

// Engine creates energy [Gate] sessions.
type Engine struct{}

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return NewGate(cfg), nil
}

func validate(cfg vad.Config) error {
	var errs []error
	if cfg.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("energy: speech threshold %v must be positive", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold >= cfg.SpeechThreshold {
		errs = append(errs, fmt.Errorf("energy: silence threshold %v must be in [0, %v)", cfg.SilenceThreshold, cfg.SpeechThreshold))
	}
	if cfg.MinSpeechFrames < 1 || cfg.MinSilenceFrames < 1 {
		errs = append(errs, errors.New("energy: frame counts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Gate is a two-state (silent, speaking) hysteresis gate.
//
//   - A frame with RMS above SpeechThreshold increments the speech counter and
//     zeroes the silence counter.
//   - A frame with RMS below SilenceThreshold increments the silence counter
//     and zeroes the speech counter.
//   - Any other frame leaves both counters and the decision untouched.
//
// Gate flips to speaking once the speech counter reaches MinSpeechFrames and
// back to silent once the silence counter reaches MinSilenceFrames.
//
// Gate is not safe for concurrent use.
type Gate struct {
	cfg          vad.Config
	speaking     bool
	speechCount  int
	silenceCount int
}

// NewGate returns a silent gate using cfg. Use [vad.DefaultConfig] for the
// standard thresholds.
func NewGate(cfg vad.Config) *Gate {
	return &Gate{cfg: cfg}
}

// Process implements [vad.SessionHandle].
func (g *Gate) Process(frame []float32) vad.Decision {
	rms := audio.RMS(frame)
	ev := g.step(rms)
	return vad.Decision{IsSpeech: g.speaking, Event: ev, RMS: rms}
}

func (g *Gate) step(rms float64) vad.EventType {
	switch {
	case rms > g.cfg.SpeechThreshold:
		g.speechCount++
		g.silenceCount = 0
		if !g.speaking && g.speechCount >= g.cfg.MinSpeechFrames {
			g.speaking = true
			return vad.EventSpeechStart
		}
	case rms < g.cfg.SilenceThreshold:
		g.silenceCount++
		g.speechCount = 0
		if g.speaking && g.silenceCount >= g.cfg.MinSilenceFrames {
			g.speaking = false
			return vad.EventSpeechEnd
		}
	}
	if g.speaking {
		return vad.EventSpeechContinue
	}
	return vad.EventSilence
}

// IsSpeech returns the current decision.
func (g *Gate) IsSpeech() bool { return g.speaking }

// Counters returns the current speech and silence counters.
func (g *Gate) Counters() (speech, silence int) { return g.speechCount, g.silenceCount }

// Reset implements [vad.SessionHandle].
func (g *Gate) Reset() {
	g.speaking = false
	g.speechCount = 0
	g.silenceCount = 0
}

// Close implements [vad.SessionHandle].
func (g *Gate) Close() error { return nil }

// Analyzer classifies whole recordings. Both gates must pass: the RMS of the
// entire signal must exceed MinRMS, and more than MinActiveFraction of the
// samples must have an absolute value above SampleThreshold.
type Analyzer struct {
	MinRMS            float64
	SampleThreshold   float64
	MinActiveFraction float64
}

// NewAnalyzer returns an Analyzer with the standard gates: RMS above 0.01 and
// more than 5% of samples above 0.02.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MinRMS: 0.01, SampleThreshold: 0.02, MinActiveFraction: 0.05}
}

// AnalyzeBuffer implements [vad.BufferAnalyzer].
func (a *Analyzer) AnalyzeBuffer(buf audio.Buffer) bool {
	n := len(buf.Samples)
	if n == 0 {
		return false
	}
	var sum float64
	active := 0
	for _, s := range buf.Samples {
		v := float64(s)
		sum += v * v
		if math.Abs(v) > a.SampleThreshold {
			active++
		}
	}
	rms := math.Sqrt(sum / float64(n))
	return rms > a.MinRMS && float64(active)/float64(n) > a.MinActiveFraction
}
