package asr

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxd/voxd/internal/audio"
)

func testBuffer(dur time.Duration) audio.Buffer {
	n := int(float64(audio.CanonicalRate) * dur.Seconds())
	return audio.Buffer{SampleRate: audio.CanonicalRate, Channels: 1, Samples: make([]float32, n)}
}

func TestCloudTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model field = %q, want whisper-1", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language field = %q, want en", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		var riff [4]byte
		if _, err := f.Read(riff[:]); err != nil || string(riff[:]) != "RIFF" {
			t.Errorf("uploaded file does not start with RIFF header")
		}
		w.Write([]byte(`{"text":"hello world","language":"en"}`))
	}))
	defer srv.Close()

	c := NewCloud(CloudConfig{Endpoint: srv.URL, APIKey: "sk-test", MaxRetries: 2})
	res, err := c.Transcribe(context.Background(), testBuffer(2*time.Second), Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if res.Backend != "cloud" {
		t.Errorf("Backend = %q, want cloud", res.Backend)
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, want 0", res.Retries)
	}
	if res.AudioDuration != 2*time.Second {
		t.Errorf("AudioDuration = %v, want 2s", res.AudioDuration)
	}
}

func TestCloudRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			// Simulate a timeout by hanging past the client deadline.
			time.Sleep(300 * time.Millisecond)
			return
		}
		w.Write([]byte(`{"text":"third time lucky","language":"en"}`))
	}))
	defer srv.Close()

	c := NewCloud(CloudConfig{
		Endpoint:   srv.URL,
		APIKey:     "sk-test",
		Timeout:    100 * time.Millisecond,
		MaxRetries: 2,
	})

	res, err := c.Transcribe(context.Background(), testBuffer(time.Second), Options{})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "third time lucky" {
		t.Errorf("Text = %q, want %q", res.Text, "third time lucky")
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
}

func TestCloudNetworkErrorAfterRetriesExhausted(t *testing.T) {
	// Point at a closed server so every attempt fails at the transport.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewCloud(CloudConfig{Endpoint: srv.URL, APIKey: "sk-test", MaxRetries: 1})
	_, err := c.Transcribe(context.Background(), testBuffer(time.Second), Options{})
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Transcribe() error = %v, want ErrNetwork", err)
	}
}

func TestCloud4xxNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad audio"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewCloud(CloudConfig{Endpoint: srv.URL, APIKey: "sk-test", MaxRetries: 3})
	_, err := c.Transcribe(context.Background(), testBuffer(time.Second), Options{})
	if !errors.Is(err, ErrInference) {
		t.Errorf("Transcribe() error = %v, want ErrInference", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (4xx must not be retried)", got)
	}
}

func TestCloud5xxRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"text":"recovered","language":"en"}`))
	}))
	defer srv.Close()

	c := NewCloud(CloudConfig{Endpoint: srv.URL, APIKey: "sk-test", MaxRetries: 2})
	res, err := c.Transcribe(context.Background(), testBuffer(time.Second), Options{})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q, want %q", res.Text, "recovered")
	}
	if res.Retries != 1 {
		t.Errorf("Retries = %d, want 1", res.Retries)
	}
}

func TestCloudEmptyBufferNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewCloud(CloudConfig{Endpoint: srv.URL, APIKey: "sk-test"})
	res, err := c.Transcribe(context.Background(), audio.Buffer{SampleRate: audio.CanonicalRate, Channels: 1}, Options{})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
	if calls.Load() != 0 {
		t.Error("empty buffer must not trigger a network call")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	buf := testBuffer(time.Second)
	data := encodeWAV(buf)

	if len(data) != 44+len(buf.Samples)*2 {
		t.Fatalf("WAV length = %d, want %d", len(data), 44+len(buf.Samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != uint32(audio.CanonicalRate) {
		t.Errorf("sample rate = %d, want %d", rate, audio.CanonicalRate)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d, want 16", bits)
	}
}

func TestResultRTF(t *testing.T) {
	r := &Result{ProcessingTime: time.Second, AudioDuration: 4 * time.Second}
	if got := r.RTF(); got != 0.25 {
		t.Errorf("RTF() = %f, want 0.25", got)
	}

	zero := &Result{ProcessingTime: time.Second}
	if got := zero.RTF(); got != 0 {
		t.Errorf("RTF() with zero duration = %f, want 0", got)
	}
}
