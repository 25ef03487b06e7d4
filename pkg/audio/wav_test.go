package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/audio"
)

func sine(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWAVBytes_Header(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: sine(1600, 16000, 440, 0.5), SampleRate: 16000}
	data, err := audio.WAVBytes(buf, 16000)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bit depth = %d, want 16", got)
	}
	if len(data) != 44+1600*2 {
		t.Errorf("len = %d, want %d", len(data), 44+1600*2)
	}
}

func TestWAVFile_RoundTrip(t *testing.T) {
	t.Parallel()

	// 48 kHz input is resampled to 16 kHz on write.
	in := audio.Buffer{Samples: sine(4800, 48000, 300, 0.4), SampleRate: 48000}
	path := filepath.Join(t.TempDir(), "fixture.wav")
	if err := audio.WriteWAVFile(path, in, 16000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	out, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", out.SampleRate)
	}
	if out.Len() != 1600 {
		t.Errorf("Len = %d, want 1600", out.Len())
	}
	if d := math.Abs(audio.RMS(out.Samples) - audio.RMS(in.Samples)); d > 0.01 {
		t.Errorf("RMS drifted by %f", d)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Error("expected error for invalid input")
	}
}
