package audio

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadWAV(t *testing.T) {
	orig := Buffer{
		SampleRate: 16000,
		Channels:   1,
		Samples:    sine(16000, 1, time.Second, 440),
	}

	path := filepath.Join(t.TempDir(), "capture.wav")
	if err := SaveWAV(path, orig); err != nil {
		t.Fatalf("SaveWAV() error = %v", err)
	}

	got, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV() error = %v", err)
	}

	if got.SampleRate != orig.SampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, orig.SampleRate)
	}
	if got.Channels != orig.Channels {
		t.Errorf("Channels = %d, want %d", got.Channels, orig.Channels)
	}
	if len(got.Samples) != len(orig.Samples) {
		t.Fatalf("got %d samples, want %d", len(got.Samples), len(orig.Samples))
	}

	// 16-bit quantization: samples should round-trip within one LSB step.
	for i := range got.Samples {
		if math.Abs(float64(got.Samples[i]-orig.Samples[i])) > 1.0/32000 {
			t.Fatalf("sample %d = %f, want ~%f", i, got.Samples[i], orig.Samples[i])
		}
	}
}

func TestSaveWAVCreatesDirectories(t *testing.T) {
	buf := Buffer{
		SampleRate: 16000,
		Channels:   1,
		Samples:    sine(16000, 1, 100*time.Millisecond, 440),
	}

	// The recordings directory does not exist until the first save.
	path := filepath.Join(t.TempDir(), "recordings", "nested", "capture.wav")
	if err := SaveWAV(path, buf); err != nil {
		t.Fatalf("SaveWAV() error = %v", err)
	}

	got, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV() error = %v", err)
	}
	if len(got.Samples) != len(buf.Samples) {
		t.Errorf("got %d samples, want %d", len(got.Samples), len(buf.Samples))
	}
}

func TestLoadWAVMissing(t *testing.T) {
	if _, err := LoadWAV(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("LoadWAV() should fail for a missing file")
	}
}
