package whisper_test

import (
	"math"
	"os"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/provider/stt/local"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := (whisper.Engine{}).Load(local.Model{ID: "x"}); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := (whisper.Engine{}).Load(local.Model{ID: "x", Path: "/nonexistent/model.bin"}); err == nil {
		t.Fatal("expected error for invalid model path")
	}
}

func TestRuntime_TranscribeTone(t *testing.T) {
	path := testModelPath(t)
	rt, err := (whisper.Engine{}).Load(local.Model{ID: "test", Path: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer rt.Close()

	// One second of a 440 Hz tone at 48 kHz exercises the resampling path.
	samples := make([]float32, 48000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	if _, err := rt.Transcribe(samples, 48000, "en"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}
