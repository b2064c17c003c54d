// Package asr provides the speech-to-text backend contract and its two
// implementations: local on-device inference via whisper.cpp and a remote
// HTTP transcription API.
package asr

import (
	"context"
	"errors"
	"time"

	"github.com/voxd/voxd/internal/audio"
)

var (
	// ErrInference indicates the backend accepted the audio but failed to
	// produce a transcript.
	ErrInference = errors.New("inference failed")

	// ErrNetwork indicates a transport-level failure reaching a remote
	// backend. Callers may fall back to a local backend on this error.
	ErrNetwork = errors.New("network failure")
)

// Options tunes a single transcription call.
type Options struct {
	Language string // source language hint, "" for auto-detect
	BeamSize int    // 0 = greedy decoding
	Threads  int    // 0 = backend default
}

// Result is the outcome of a transcription.
type Result struct {
	Text           string
	Language       string
	Backend        string
	ProcessingTime time.Duration
	AudioDuration  time.Duration
	Retries        int // network retries spent (cloud backend only)
}

// RTF returns the real-time factor: processing time over audio duration.
// Values below 1.0 mean faster than real time.
func (r *Result) RTF() float64 {
	if r.AudioDuration <= 0 {
		return 0
	}
	return r.ProcessingTime.Seconds() / r.AudioDuration.Seconds()
}

// Backend converts canonical audio (mono, 16kHz, float32) to text.
// An empty-but-valid buffer is a legitimate "no speech" result, not an
// error.
type Backend interface {
	Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error)
	Name() string
	Close() error
}
