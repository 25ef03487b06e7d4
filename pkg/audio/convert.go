package audio

// Downmix averages interleaved multi-channel samples into mono. Mono input is
// returned unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Resampler converts a mono stream delivered in chunks from one rate to
// another with linear interpolation. Unlike [Resample] it carries the read
// position and the last input sample from one chunk to the next, so the
// output length tracks the total input length instead of being truncated
// per chunk.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	src, dst int

	// pos is the input position of the next output sample in units of
	// 1/dst input samples, relative to the first sample of the next chunk.
	// It lies in [-dst, 0) once a chunk has been consumed, meaning the next
	// output falls between prev and the next chunk's first sample.
	pos  int64
	prev float32
}

// NewResampler returns a Resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: srcRate, dst: dstRate}
}

// SourceRate returns the input rate.
func (r *Resampler) SourceRate() int { return r.src }

// Process converts the next chunk. If the rates match or are invalid, chunk
// is returned unchanged.
func (r *Resampler) Process(chunk []float32) []float32 {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst || len(chunk) == 0 {
		return chunk
	}
	dst, step := int64(r.dst), int64(r.src)
	last := int64(len(chunk)-1) * dst

	out := make([]float32, 0, int64(len(chunk))*dst/step+1)
	for ; r.pos < last; r.pos += step {
		var s0, s1 float32
		var rem int64
		if r.pos < 0 {
			s0, s1 = r.prev, chunk[0]
			rem = r.pos + dst
		} else {
			idx := r.pos / dst
			s0, s1 = chunk[idx], chunk[idx+1]
			rem = r.pos - idx*dst
		}
		frac := float32(rem) / float32(dst)
		out = append(out, s0*(1-frac)+s1*frac)
	}
	r.pos -= int64(len(chunk)) * dst
	r.prev = chunk[len(chunk)-1]
	return out
}

// Int16ToFloat32 converts signed 16-bit samples to float32 in [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float32 samples to signed 16-bit, clamping values
// outside [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clamp16(s)
	}
	return out
}

// BytesToFloat32 converts little-endian int16 PCM bytes to float32 samples.
// A trailing odd byte is ignored.
func BytesToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToBytes converts float32 samples to little-endian int16 PCM bytes.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := clamp16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func clamp16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
