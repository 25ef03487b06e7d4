package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV files exchanged with providers are 16-bit PCM.
const wavBitDepth = 16

// wavFormatPCM is the RIFF audio format tag for linear PCM.
const wavFormatPCM = 1

// EncodeWAV writes b to w as a 16-bit PCM mono WAV file at rate. If rate
// differs from b.SampleRate the samples are resampled first; a zero rate keeps
// the buffer's own rate.
func EncodeWAV(w io.WriteSeeker, b Buffer, rate int) error {
	if rate <= 0 {
		rate = b.SampleRate
	}
	samples := Resample(b.Samples, b.SampleRate, rate)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(clamp16(s))
	}

	enc := wav.NewEncoder(w, rate, wavBitDepth, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile encodes b into a new file at path. The file is removed again if
// encoding fails.
func WriteWAVFile(path string, b Buffer, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}
	if err := EncodeWAV(f, b, rate); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// WAVBytes encodes b into an in-memory WAV file.
func WAVBytes(b Buffer, rate int) ([]byte, error) {
	ws := &memWriteSeeker{}
	if err := EncodeWAV(ws, b, rate); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// DecodeWAV reads a PCM WAV stream into a mono Buffer, downmixing multichannel
// input.
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, errors.New("audio: not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = wavBitDepth
	}
	scale := float32(int64(1) << (depth - 1))
	interleaved := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		interleaved[i] = float32(v) / scale
	}

	return Buffer{
		Samples:    Downmix(interleaved, int(dec.NumChans)),
		SampleRate: int(dec.SampleRate),
	}, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: read wav: %w", err)
	}
	return DecodeWAV(bytes.NewReader(data))
}

// memWriteSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
