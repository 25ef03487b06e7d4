package spectral_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/denoise"
	"github.com/MrWong99/voxpipe/pkg/provider/denoise/spectral"
)

// noisySpeech returns one second of low hiss with a loud tone in the middle.
func noisySpeech(rate int) []float32 {
	out := make([]float32, rate)
	seed := uint32(7)
	for i := range out {
		seed = seed*1664525 + 1013904223
		noise := (float64(seed>>8)/float64(1<<24) - 0.5) * 0.01
		out[i] = float32(noise)
		if i >= rate/3 && i < 2*rate/3 {
			out[i] += float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
		}
	}
	return out
}

func TestModel_AttenuatesNoiseKeepsSpeech(t *testing.T) {
	t.Parallel()

	const rate = 16000
	in := noisySpeech(rate)
	out, gotRate, err := spectral.NewModel(spectral.Profile{}).Process(in, rate)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gotRate != rate {
		t.Errorf("rate = %d, want %d", gotRate, rate)
	}

	noiseIn := audio.RMS(in[:rate/4])
	noiseOut := audio.RMS(out[:rate/4])
	if noiseOut > noiseIn/4 {
		t.Errorf("noise RMS %f -> %f, want at least 4x attenuation", noiseIn, noiseOut)
	}

	speechIn := audio.RMS(in[rate/3+800 : 2*rate/3])
	speechOut := audio.RMS(out[rate/3+800 : 2*rate/3])
	if speechOut < speechIn*0.9 {
		t.Errorf("speech RMS %f -> %f, want it preserved", speechIn, speechOut)
	}
}

func TestModel_ResamplesToProfileRate(t *testing.T) {
	t.Parallel()

	in := noisySpeech(16000)
	out, rate, err := spectral.NewModel(spectral.Profile{SampleRate: 48000}).Process(in, 16000)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rate != 48000 || len(out) != 48000 {
		t.Errorf("got %d samples @ %d, want 48000 @ 48000", len(out), rate)
	}
	if in[0] != noisySpeech(16000)[0] {
		t.Error("input mutated")
	}
}

func TestBackend_LoadThroughService(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(good, []byte("noise_floor: 0.004\nreduction_db: 24\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := denoise.New(spectral.Backend{}, good)
	out, err := svc.Denoise(audio.Buffer{Samples: noisySpeech(16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Denoise: %v", err)
	}
	if out.Len() != 16000 {
		t.Errorf("Len = %d, want 16000", out.Len())
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("noise_floor: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := denoise.New(spectral.Backend{}, bad).Initialize(); err == nil {
		t.Error("expected out-of-range noise floor to be rejected")
	}
}
