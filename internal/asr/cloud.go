package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxd/voxd/internal/audio"
)

// CloudConfig configures the remote transcription backend.
type CloudConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int // retries after the first attempt, transport failures only
}

// Cloud transcribes audio through a remote HTTP API speaking the
// multipart audio-transcription protocol. Every call is bounded by the
// configured timeout; transient transport failures are retried up to
// MaxRetries, 4xx responses never.
type Cloud struct {
	cfg  CloudConfig
	http *http.Client
}

// NewCloud creates the remote backend.
func NewCloud(cfg CloudConfig) *Cloud {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Cloud{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the backend identifier used in results and logs.
func (c *Cloud) Name() string { return "cloud" }

// Close is a no-op; the backend holds no resources beyond the HTTP client.
func (c *Cloud) Close() error { return nil }

type cloudResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe uploads the buffer as a 16-bit WAV and returns the parsed
// transcript. An empty buffer short-circuits to an empty result without
// a network call.
func (c *Cloud) Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error) {
	if len(buf.Samples) == 0 {
		return &Result{Backend: c.Name(), Language: opts.Language}, nil
	}

	body, contentType, err := c.buildRequestBody(buf, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	start := time.Now()
	var lastErr error
	retries := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		resp, retryable, err := c.attempt(ctx, body, contentType)
		if err == nil {
			return &Result{
				Text:           resp.Text,
				Language:       resp.Language,
				Backend:        c.Name(),
				ProcessingTime: time.Since(start),
				AudioDuration:  buf.Duration(),
				Retries:        retries,
			}, nil
		}

		lastErr = err
		if !retryable {
			break
		}
	}

	return nil, lastErr
}

// attempt performs one request. retryable reports whether another attempt
// is worthwhile: transport failures and 5xx responses are, 4xx are not.
func (c *Cloud) attempt(ctx context.Context, body []byte, contentType string) (*cloudResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("%w: create request: %v", ErrInference, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: server error %d: %s", ErrInference, resp.StatusCode, truncate(respBody))
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("%w: request rejected %d: %s", ErrInference, resp.StatusCode, truncate(respBody))
	}

	var parsed cloudResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("%w: parse response: %v", ErrInference, err)
	}
	return &parsed, false, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func (c *Cloud) buildRequestBody(buf audio.Buffer, opts Options) ([]byte, string, error) {
	var out bytes.Buffer
	writer := multipart.NewWriter(&out)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(encodeWAV(buf)); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	if err := writer.WriteField("model", c.cfg.Model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}

	// The API treats an absent language field as auto-detect.
	if opts.Language != "" && opts.Language != "auto" {
		if err := writer.WriteField("language", opts.Language); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}

	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", fmt.Errorf("write response_format field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return out.Bytes(), writer.FormDataContentType(), nil
}

// encodeWAV renders float32 samples as a 16-bit PCM WAV payload.
func encodeWAV(buf audio.Buffer) []byte {
	numSamples := len(buf.Samples)
	dataSize := numSamples * 2

	out := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	// RIFF header
	out.WriteString("RIFF")
	writeU32(out, uint32(36+dataSize))
	out.WriteString("WAVE")

	// fmt chunk
	out.WriteString("fmt ")
	writeU32(out, 16)
	writeU16(out, 1) // PCM
	writeU16(out, uint16(buf.Channels))
	writeU32(out, uint32(buf.SampleRate))
	writeU32(out, uint32(buf.SampleRate*buf.Channels*2)) // byte rate
	writeU16(out, uint16(buf.Channels*2))                // block align
	writeU16(out, 16)                                    // bits per sample

	// data chunk
	out.WriteString("data")
	writeU32(out, uint32(dataSize))

	for _, s := range buf.Samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(s*32767)))
		out.Write(b[:])
	}

	return out.Bytes()
}

func writeU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}
