// Package session implements the dictation state machine: it turns raw
// hotkey edges into debounced recording sessions, runs captured audio
// through normalization, backend selection, transcription and optional
// translation, and hands the text to the injector.
package session

import (
	"time"

	"github.com/voxd/voxd/internal/asr"
)

// State is the orchestrator's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
	StateRecordingTranslate
	StateProcessing
	StateTranslating
	StateDelivering
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateRecordingTranslate:
		return "recording-translate"
	case StateProcessing:
		return "processing"
	case StateTranslating:
		return "translating"
	case StateDelivering:
		return "delivering"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Mode is what the user asked the session to do.
type Mode int

const (
	ModeTranscribe Mode = iota
	ModeTranslate
)

func (m Mode) String() string {
	if m == ModeTranslate {
		return "translate"
	}
	return "transcribe"
}

// Session tracks one dictation from confirmed press to delivery. At most
// one session exists at any instant; the orchestrator is its only writer.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time
	Result    *asr.Result
	Err       error
}

// Notifier receives one-way events for UI consumption. Implementations
// must return quickly; calls are fire-and-forget.
type Notifier interface {
	StateChanged(s State)
	ResultReady(r *asr.Result)
	Error(kind, msg string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) StateChanged(State)      {}
func (NopNotifier) ResultReady(*asr.Result) {}
func (NopNotifier) Error(kind, msg string)  {}
