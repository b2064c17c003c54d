package asr

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxd/voxd/internal/audio"
)

// Local wraps a whisper.cpp model for on-device transcription.
//
// The underlying model context is not reentrant: the mutex serializes
// inference so a second call blocks until the first completes instead of
// corrupting shared model state.
type Local struct {
	mu    sync.Mutex
	model whisper.Model
	name  string
}

// NewLocal loads a whisper model from the given path. The caller must
// call Close() when done.
func NewLocal(modelPath, name string) (*Local, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("asr: load model %q: %w", modelPath, err)
	}
	if name == "" {
		name = "local"
	}
	return &Local{model: model, name: name}, nil
}

// Name returns the backend identifier used in results and logs.
func (l *Local) Name() string { return l.name }

// Close releases the whisper model resources.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		err := l.model.Close()
		l.model = nil
		return err
	}
	return nil
}

// Transcribe runs inference on canonical mono/16kHz/float32 samples.
// An empty buffer yields an empty transcript without touching the model.
func (l *Local) Transcribe(ctx context.Context, buf audio.Buffer, opts Options) (*Result, error) {
	if len(buf.Samples) == 0 {
		return &Result{Backend: l.name, Language: opts.Language}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model == nil {
		return nil, fmt.Errorf("%w: model closed", ErrInference)
	}

	start := time.Now()

	wctx, err := l.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("%w: create context: %v", ErrInference, err)
	}

	if opts.Threads > 0 {
		wctx.SetThreads(uint(opts.Threads))
	}
	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}

	lang := opts.Language
	if lang != "" && lang != "auto" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("%w: set language %q: %v", ErrInference, lang, err)
		}
	} else if l.model.IsMultilingual() {
		if err := wctx.SetLanguage("auto"); err != nil {
			return nil, fmt.Errorf("%w: set auto language: %v", ErrInference, err)
		}
	}

	if err := wctx.Process(buf.Samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("%w: process: %v", ErrInference, err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: next segment: %v", ErrInference, err)
		}
		segments = append(segments, seg.Text)
	}

	return &Result{
		Text:           strings.TrimSpace(strings.Join(segments, " ")),
		Language:       wctx.Language(),
		Backend:        l.name,
		ProcessingTime: time.Since(start),
		AudioDuration:  buf.Duration(),
	}, nil
}
