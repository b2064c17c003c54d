// Package audio provides microphone capture and normalization of raw
// captured audio into the canonical mono/16kHz/float32 form consumed by
// the transcription backends.
package audio

import (
	"errors"
	"time"
)

// CanonicalRate is the sample rate every transcription backend expects.
const CanonicalRate = 16000

var (
	// ErrDeviceUnavailable indicates the capture device could not be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrFormatUnsupported indicates a sample format or layout that cannot
	// be converted.
	ErrFormatUnsupported = errors.New("audio format unsupported")

	// ErrTooShort indicates a capture below the minimum usable duration.
	// It is an expected outcome, not a failure.
	ErrTooShort = errors.New("audio too short")
)

// SampleFormat identifies the encoding of raw PCM bytes.
type SampleFormat int

const (
	FormatU8 SampleFormat = iota
	FormatS16
	FormatS24
	FormatS32
	FormatF32
)

// String returns the format name for logs and errors.
func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// Buffer holds interleaved float32 samples in [-1.0, 1.0].
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}
