package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxd/voxd/internal/asr"
	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/backend"
	"github.com/voxd/voxd/internal/history"
	"github.com/voxd/voxd/internal/hotkey"
	"github.com/voxd/voxd/internal/translate"
)

// Recorder captures microphone audio between Start and Stop.
type Recorder interface {
	Start() error
	Stop() audio.Buffer
}

// Selector picks the backend capability for a session, honoring an
// optional pin.
type Selector interface {
	Select(pin string) (backend.Capability, bool, error)
}

// Injector delivers text into the focused application.
type Injector interface {
	Inject(text string) error
}

// HistorySink persists completed transcripts.
type HistorySink interface {
	Save(ctx context.Context, e history.Entry) error
}

// Config carries the session-relevant knobs resolved from the user
// config.
type Config struct {
	BackendPin          string
	Debounce            time.Duration
	MinDuration         time.Duration
	Language            string
	BeamSize            int
	Threads             int
	TargetLang          string
	DeliverUntranslated bool
	ShortTapNotify      bool
	SaveWAV             bool
	WAVDir              string
}

// Orchestrator owns the session state machine. All state transitions go
// through the mutex; at most one session is live at a time, and hotkey
// events that do not fit the current state are dropped.
type Orchestrator struct {
	cfg        Config
	log        *slog.Logger
	recorder   Recorder
	selector   Selector
	backends   map[backend.Kind]asr.Backend
	translator translate.Translator
	injector   Injector
	notifier   Notifier
	history    HistorySink

	clock func() time.Time
	after func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	state          State
	sess           *Session
	debounce       *time.Timer
	warnedFallback bool
}

// New wires an orchestrator. translator and hist may be nil; notifier
// falls back to NopNotifier.
func New(cfg Config, log *slog.Logger, rec Recorder, sel Selector, backends map[backend.Kind]asr.Backend, tr translate.Translator, inj Injector, n Notifier, hist HistorySink) *Orchestrator {
	if n == nil {
		n = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		recorder:   rec,
		selector:   sel,
		backends:   backends,
		translator: tr,
		injector:   inj,
		notifier:   n,
		history:    hist,
		clock:      time.Now,
		after:      time.AfterFunc,
		state:      StateIdle,
	}
}

// State reports the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnHotkeyEvent feeds one hotkey edge into the state machine. It never
// blocks on the pipeline; processing happens on a worker goroutine.
func (o *Orchestrator) OnHotkeyEvent(ev hotkey.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateIdle:
		if ev.Edge == hotkey.EdgePress {
			o.arm(ev.Combo)
		}
	case StateArmed:
		if ev.Edge == hotkey.EdgeRelease && o.matchesSession(ev.Combo) {
			o.disarm()
		}
	case StateRecording, StateRecordingTranslate:
		if ev.Edge == hotkey.EdgeRelease && o.matchesSession(ev.Combo) {
			o.finishCapture()
		}
	default:
		// A session is already in flight; late edges are noise.
		o.log.Debug("hotkey event ignored", "state", o.state.String(), "combo", ev.Combo.String(), "edge", ev.Edge.String())
	}
}

func (o *Orchestrator) matchesSession(c hotkey.Combo) bool {
	if o.sess == nil {
		return false
	}
	if o.sess.Mode == ModeTranslate {
		return c == hotkey.ComboTranslate
	}
	return c == hotkey.ComboTranscribe
}

// arm starts the debounce window. Capture does not begin until the
// window elapses with the key still held.
func (o *Orchestrator) arm(c hotkey.Combo) {
	mode := ModeTranscribe
	if c == hotkey.ComboTranslate {
		mode = ModeTranslate
	}
	o.sess = &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: o.clock(),
	}
	id := o.sess.ID
	o.setState(StateArmed)
	o.debounce = o.after(o.cfg.Debounce, func() { o.debounceElapsed(id) })
	o.log.Debug("session armed", "session", id, "mode", mode.String())
}

// disarm cancels a session whose key was released inside the debounce
// window. Short taps are not an error.
func (o *Orchestrator) disarm() {
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	o.log.Debug("short tap discarded", "session", o.sess.ID)
	if o.cfg.ShortTapNotify {
		o.notifier.Error("short_tap", "hold the key to dictate")
	}
	o.sess = nil
	o.setState(StateIdle)
}

// debounceElapsed fires on the timer goroutine once the hold is
// confirmed.
func (o *Orchestrator) debounceElapsed(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateArmed || o.sess == nil || o.sess.ID != id {
		return
	}
	o.debounce = nil
	if err := o.recorder.Start(); err != nil {
		o.fail("audio", fmt.Errorf("starting capture: %w", err))
		return
	}
	if o.sess.Mode == ModeTranslate {
		o.setState(StateRecordingTranslate)
	} else {
		o.setState(StateRecording)
	}
	o.log.Info("recording started", "session", id, "mode", o.sess.Mode.String())
}

// finishCapture stops the recorder and hands the buffer to the
// pipeline. Caller holds the mutex.
func (o *Orchestrator) finishCapture() {
	buf := o.recorder.Stop()
	sess := o.sess
	o.setState(StateProcessing)
	o.log.Info("recording stopped", "session", sess.ID, "duration", buf.Duration())
	go o.process(sess, buf)
}

// process runs the capture-to-delivery pipeline for one session.
func (o *Orchestrator) process(sess *Session, buf audio.Buffer) {
	ctx := context.Background()

	if buf.Duration() < o.cfg.MinDuration {
		o.log.Info("capture below minimum duration, discarded", "session", sess.ID, "duration", buf.Duration())
		o.reset()
		return
	}

	if o.cfg.SaveWAV {
		path := filepath.Join(o.cfg.WAVDir, sess.ID+".wav")
		if err := audio.SaveWAV(path, buf); err != nil {
			o.log.Warn("saving capture failed", "session", sess.ID, "error", err)
		}
	}

	norm, err := audio.Normalize(buf, o.cfg.MinDuration)
	if err != nil {
		if errors.Is(err, audio.ErrTooShort) {
			o.log.Info("capture below minimum duration, discarded", "session", sess.ID)
			o.reset()
			return
		}
		o.failLocked("audio", fmt.Errorf("normalizing capture: %w", err))
		return
	}

	res, err := o.transcribe(ctx, norm)
	if err != nil {
		o.failLocked("asr", err)
		return
	}
	sess.Result = res
	o.log.Info("transcription complete",
		"session", sess.ID,
		"backend", res.Backend,
		"language", res.Language,
		"rtf", fmt.Sprintf("%.2f", res.RTF()),
		"retries", res.Retries,
	)

	if res.Text == "" {
		o.log.Info("no speech detected", "session", sess.ID)
		o.notifier.ResultReady(res)
		o.reset()
		return
	}

	if sess.Mode == ModeTranslate {
		if !o.translate(ctx, sess, res) {
			return
		}
	}

	o.deliver(ctx, sess, res)
	o.reset()
}

// transcribe selects a backend and runs inference, falling back from
// the cloud to a local backend when the network is unreachable.
func (o *Orchestrator) transcribe(ctx context.Context, buf audio.Buffer) (*asr.Result, error) {
	chosen, fellBack, err := o.selector.Select(o.cfg.BackendPin)
	if err != nil {
		return nil, fmt.Errorf("selecting backend: %w", err)
	}
	if fellBack {
		o.warnFallback(chosen)
	}

	be, ok := o.backends[chosen.Kind]
	if !ok || be == nil {
		return nil, fmt.Errorf("backend %s selected but not constructed", chosen.Kind)
	}

	opts := asr.Options{
		Language: o.cfg.Language,
		BeamSize: o.cfg.BeamSize,
		Threads:  o.cfg.Threads,
	}
	res, err := be.Transcribe(ctx, buf, opts)
	if err == nil {
		return res, nil
	}
	if chosen.Kind != backend.KindCloud || !errors.Is(err, asr.ErrNetwork) {
		return nil, err
	}

	// Cloud unreachable: retry once on whichever local backend exists.
	for _, k := range []backend.Kind{backend.KindLocalGPU, backend.KindLocalCPU} {
		local, ok := o.backends[k]
		if !ok || local == nil {
			continue
		}
		o.log.Warn("cloud backend unreachable, retrying locally", "error", err, "fallback", k.String())
		return local.Transcribe(ctx, buf, opts)
	}
	return nil, err
}

// warnFallback reports a pin that could not be honored, once per run.
func (o *Orchestrator) warnFallback(chosen backend.Capability) {
	o.mu.Lock()
	warned := o.warnedFallback
	o.warnedFallback = true
	o.mu.Unlock()
	if warned {
		return
	}
	msg := fmt.Sprintf("configured backend %q unavailable, using %s", o.cfg.BackendPin, chosen.Name)
	o.log.Warn(msg)
	o.notifier.Error("backend_fallback", msg)
}

// translate rewrites the result text in the target language. Provider
// failures degrade to the untranslated text when configured; otherwise
// the session fails and the returned false stops the pipeline.
func (o *Orchestrator) translate(ctx context.Context, sess *Session, res *asr.Result) bool {
	if o.translator == nil {
		o.log.Warn("translate session without a translator, delivering transcript", "session", sess.ID)
		return true
	}
	o.setStateLocked(StateTranslating)
	out, err := o.translator.Translate(ctx, res.Text, o.cfg.TargetLang)
	if err != nil {
		if !o.cfg.DeliverUntranslated {
			o.failLocked("translate", err)
			return false
		}
		o.log.Warn("translation failed, delivering untranslated text", "session", sess.ID, "error", err)
		o.notifier.Error("translate", err.Error())
		return true
	}
	res.Text = out
	res.Language = o.cfg.TargetLang
	return true
}

// deliver injects the text and records the transcript. Injection
// failures do not abort the session: the text is still in the result
// (and clipboard) for manual recovery.
func (o *Orchestrator) deliver(ctx context.Context, sess *Session, res *asr.Result) {
	if res.Text == "" {
		return
	}
	o.setStateLocked(StateDelivering)
	o.notifier.ResultReady(res)

	if err := o.injector.Inject(res.Text); err != nil {
		o.log.Error("injection failed", "session", sess.ID, "error", err)
		o.notifier.Error("inject", err.Error())
	}

	if o.history != nil {
		e := history.Entry{
			SessionID:    sess.ID,
			Mode:         sess.Mode.String(),
			Text:         res.Text,
			Language:     res.Language,
			Backend:      res.Backend,
			ProcessingMs: res.ProcessingTime.Milliseconds(),
			AudioMs:      res.AudioDuration.Milliseconds(),
		}
		if err := o.history.Save(ctx, e); err != nil {
			o.log.Warn("saving history failed", "session", sess.ID, "error", err)
		}
	}
}

// setState transitions and notifies. Caller holds the mutex.
func (o *Orchestrator) setState(s State) {
	o.state = s
	o.notifier.StateChanged(s)
}

func (o *Orchestrator) setStateLocked(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setState(s)
}

// fail records a session error and returns the machine to idle. Caller
// holds the mutex.
func (o *Orchestrator) fail(kind string, err error) {
	if o.sess != nil {
		o.sess.Err = err
	}
	o.log.Error("session failed", "kind", kind, "error", err)
	o.setState(StateError)
	o.notifier.Error(kind, err.Error())
	o.sess = nil
	o.setState(StateIdle)
}

func (o *Orchestrator) failLocked(kind string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail(kind, err)
}

// reset returns to idle after a completed or silently discarded
// session.
func (o *Orchestrator) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sess = nil
	o.setState(StateIdle)
}
