// Package hotkey provides a global hotkey listener using gohook. It emits
// raw press/release edges for the transcribe and translate key combos;
// debouncing and session logic live in the orchestrator.
package hotkey

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// Combo identifies which key combination an event belongs to.
type Combo int

const (
	ComboTranscribe Combo = iota
	ComboTranslate
)

func (c Combo) String() string {
	switch c {
	case ComboTranscribe:
		return "transcribe"
	case ComboTranslate:
		return "translate"
	default:
		return "unknown"
	}
}

// Edge is the direction of a key transition.
type Edge int

const (
	EdgePress Edge = iota
	EdgeRelease
)

func (e Edge) String() string {
	if e == EdgePress {
		return "press"
	}
	return "release"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Combo Combo
	Edge  Edge
	Time  time.Time
}

// Listener watches two global key combos and emits press/release events.
// Sends never block: if the consumer lags, events are dropped rather than
// stalling the OS hook thread.
type Listener struct {
	transcribeKeys []string
	translateKeys  []string
	ch             chan Event
	done           chan struct{}
	once           sync.Once
}

// NewListener creates a Listener for the given key combos. Keys are
// lowercase names (e.g. ["ctrl", "shift", "r"]). translateKeys may be
// empty to disable the translate combo.
func NewListener(transcribeKeys, translateKeys []string) *Listener {
	return &Listener{
		transcribeKeys: transcribeKeys,
		translateKeys:  translateKeys,
		ch:             make(chan Event, 16),
		done:           make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	l.register(ComboTranscribe, l.transcribeKeys)
	if len(l.translateKeys) > 0 {
		l.register(ComboTranslate, l.translateKeys)
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) register(combo Combo, keys []string) {
	hook.Register(hook.KeyDown, keys, func(e hook.Event) {
		l.emit(Event{Combo: combo, Edge: EdgePress, Time: time.Now()})
	})
	hook.Register(hook.KeyUp, keys, func(e hook.Event) {
		l.emit(Event{Combo: combo, Edge: EdgeRelease, Time: time.Now()})
	})
}

func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block the hook thread if the channel is full
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
