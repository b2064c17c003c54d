package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodePCM converts raw little-endian PCM bytes to a float32 Buffer.
// Integer formats are scaled into [-1.0, 1.0].
func DecodePCM(data []byte, format SampleFormat, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: rate=%d channels=%d", ErrFormatUnsupported, sampleRate, channels)
	}

	var samples []float32
	switch format {
	case FormatU8:
		samples = make([]float32, len(data))
		for i, b := range data {
			samples[i] = (float32(b) - 128) / 128
		}
	case FormatS16:
		n := len(data) / 2
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float32(v) / 32768
		}
	case FormatS24:
		n := len(data) / 3
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v -= 1 << 24
			}
			samples[i] = float32(v) / 8388608
		}
	case FormatS32:
		n := len(data) / 4
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			samples[i] = float32(float64(v) / 2147483648)
		}
	case FormatF32:
		n := len(data) / 4
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	default:
		return Buffer{}, fmt.Errorf("%w: %s", ErrFormatUnsupported, format)
	}

	return Buffer{SampleRate: sampleRate, Channels: channels, Samples: samples}, nil
}

// Normalize converts a captured buffer into the canonical mono/16kHz/float32
// form: channels are averaged down to one, the signal is resampled to 16kHz,
// and samples are clamped to [-1.0, 1.0]. Buffers shorter than minDuration
// are rejected with ErrTooShort. The function has no shared state and yields
// identical output for identical input.
func Normalize(raw Buffer, minDuration time.Duration) (Buffer, error) {
	if raw.SampleRate <= 0 || raw.Channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: rate=%d channels=%d", ErrFormatUnsupported, raw.SampleRate, raw.Channels)
	}

	if raw.Duration() < minDuration {
		return Buffer{}, fmt.Errorf("%w: %.2fs < %.2fs",
			ErrTooShort, raw.Duration().Seconds(), minDuration.Seconds())
	}

	mono := downmix(raw.Samples, raw.Channels)
	out := resample(mono, raw.SampleRate, CanonicalRate)
	clamp(out)

	return Buffer{SampleRate: CanonicalRate, Channels: 1, Samples: out}, nil
}

// downmix averages interleaved channels into a mono signal.
func downmix(samples []float32, channels int) []float32 {
	if channels == 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts a mono signal between sample rates using linear
// interpolation. Quality is sufficient for speech input to the model.
func resample(samples []float32, from, to int) []float32 {
	if from == to || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(from) / float64(to)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return []float32{}
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

func clamp(samples []float32) {
	for i, s := range samples {
		if s > 1.0 {
			samples[i] = 1.0
		} else if s < -1.0 {
			samples[i] = -1.0
		}
	}
}
