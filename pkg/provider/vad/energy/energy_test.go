package energy_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/vad"
	"github.com/MrWong99/voxpipe/pkg/provider/vad/energy"
)

const frameLen = 730

// frameWithRMS returns a constant-magnitude alternating frame whose RMS is
// exactly level.
func frameWithRMS(level float64) []float32 {
	f := make([]float32, frameLen)
	for i := range f {
		if i%2 == 0 {
			f[i] = float32(level)
		} else {
			f[i] = float32(-level)
		}
	}
	return f
}

var (
	loud  = frameWithRMS(0.05)
	quiet = frameWithRMS(0.001)
	mid   = frameWithRMS(0.012) // dead zone between 0.008 and 0.02
)

func newGate() *energy.Gate { return energy.NewGate(vad.DefaultConfig()) }

func feed(g *energy.Gate, frame []float32, n int) vad.Decision {
	var d vad.Decision
	for range n {
		d = g.Process(frame)
	}
	return d
}

func TestGate_OnsetNeedsThreeFrames(t *testing.T) {
	t.Parallel()

	g := newGate()
	if d := feed(g, loud, 2); d.IsSpeech {
		t.Fatal("two loud frames must not confirm speech")
	}
	d := g.Process(loud)
	if !d.IsSpeech || d.Event != vad.EventSpeechStart {
		t.Fatalf("third loud frame: got %+v, want speech start", d)
	}
	if d := g.Process(loud); d.Event != vad.EventSpeechContinue {
		t.Errorf("fourth loud frame event = %v, want continue", d.Event)
	}
}

func TestGate_OffsetNeedsTenFrames(t *testing.T) {
	t.Parallel()

	g := newGate()
	feed(g, loud, 3)
	if d := feed(g, quiet, 9); !d.IsSpeech {
		t.Fatal("nine quiet frames must not end speech")
	}
	d := g.Process(quiet)
	if d.IsSpeech || d.Event != vad.EventSpeechEnd {
		t.Fatalf("tenth quiet frame: got %+v, want speech end", d)
	}
}

func TestGate_DeadZoneLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	g := newGate()
	feed(g, loud, 2)
	speech, silence := g.Counters()

	// Dead-zone frames neither advance nor reset the counters.
	if d := feed(g, mid, 50); d.IsSpeech {
		t.Fatal("dead-zone frames flipped the decision")
	}
	if s, q := g.Counters(); s != speech || q != silence {
		t.Fatalf("counters changed from (%d,%d) to (%d,%d)", speech, silence, s, q)
	}
	// So one more loud frame completes the onset.
	if d := g.Process(loud); !d.IsSpeech {
		t.Error("onset should complete after dead zone")
	}

	// While speaking, dead-zone frames keep the decision.
	if d := feed(g, mid, 100); !d.IsSpeech {
		t.Error("dead-zone frames ended speech")
	}
}

func TestGate_InterruptedRunsRestart(t *testing.T) {
	t.Parallel()

	g := newGate()
	feed(g, loud, 2)
	g.Process(quiet) // resets the speech counter
	if d := feed(g, loud, 2); d.IsSpeech {
		t.Fatal("interrupted onset confirmed speech early")
	}
	if d := g.Process(loud); !d.IsSpeech {
		t.Fatal("three consecutive loud frames should confirm speech")
	}

	// A short pause inside speech is tolerated.
	feed(g, quiet, 5)
	g.Process(loud)
	if d := feed(g, quiet, 9); !d.IsSpeech {
		t.Error("pause counter should have restarted after the loud frame")
	}
}

func TestGate_ResetClearsState(t *testing.T) {
	t.Parallel()

	g := newGate()
	feed(g, loud, 5)
	if !g.IsSpeech() {
		t.Fatal("precondition: gate should be speaking")
	}
	g.Reset()
	if g.IsSpeech() {
		t.Error("Reset did not re-enter silence")
	}
	if s, q := g.Counters(); s != 0 || q != 0 {
		t.Errorf("Reset left counters (%d,%d)", s, q)
	}
	// Without the reset, two loud frames would have continued speech.
	if d := feed(g, loud, 2); d.IsSpeech {
		t.Error("state leaked across Reset")
	}
}

func TestGate_RandomSequencesRespectHysteresis(t *testing.T) {
	t.Parallel()

	// Deterministic pseudo-random walk over the three frame classes.
	frames := [][]float32{loud, quiet, mid}
	seed := uint32(12345)
	next := func() int {
		seed = seed*1664525 + 1013904223
		return int(seed>>16) % 3
	}

	g := newGate()
	prev := false
	runLoud, runQuiet := 0, 0
	for i := range 5000 {
		k := next()
		switch k {
		case 0:
			runLoud++
			runQuiet = 0
		case 1:
			runQuiet++
			runLoud = 0
		}
		d := g.Process(frames[k])
		if !prev && d.IsSpeech && runLoud < 3 {
			t.Fatalf("frame %d: speech after %d loud frames", i, runLoud)
		}
		if prev && !d.IsSpeech && runQuiet < 10 {
			t.Fatalf("frame %d: silence after %d quiet frames", i, runQuiet)
		}
		if k == 2 && d.IsSpeech != prev {
			t.Fatalf("frame %d: dead-zone frame changed decision", i)
		}
		prev = d.IsSpeech
	}
}

func TestEngine_ValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := (energy.Engine{}).NewSession(vad.DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
	bad := vad.Config{SpeechThreshold: 0.01, SilenceThreshold: 0.02, MinSpeechFrames: 0, MinSilenceFrames: 1}
	if _, err := (energy.Engine{}).NewSession(bad); err == nil {
		t.Error("expected error for inverted thresholds and zero frames")
	}
}

func TestAnalyzer(t *testing.T) {
	t.Parallel()

	a := energy.NewAnalyzer()

	tests := []struct {
		name string
		buf  []float32
		want bool
	}{
		{name: "all zero", buf: make([]float32, 16000), want: false},
		{name: "empty", buf: nil, want: false},
		{name: "steady tone", buf: tone(16000, 0.2), want: true},
		{
			// Loud enough overall but the energy sits in too few samples.
			name: "single click",
			buf: func() []float32 {
				b := make([]float32, 16000)
				for i := range 400 {
					b[i] = 0.9
				}
				return b
			}(),
			want: false,
		},
		{name: "low hum", buf: tone(16000, 0.012), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.AnalyzeBuffer(audio.Buffer{Samples: tt.buf, SampleRate: 16000})
			if got != tt.want {
				t.Errorf("AnalyzeBuffer = %v, want %v", got, tt.want)
			}
		})
	}
}

func tone(n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}
