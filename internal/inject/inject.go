// Package inject delivers transcribed text into the focused application
// using robotgo, choosing between keystroke simulation and clipboard
// paste based on what kind of window has focus.
package inject

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

var (
	// ErrPartial indicates some but not all of the text was delivered.
	ErrPartial = errors.New("injection partially failed")

	// ErrPermission indicates the OS denied synthetic input events.
	ErrPermission = errors.New("injection permission denied")
)

// TargetClass describes the kind of application receiving the text.
type TargetClass int

const (
	// ClassGUI is an ordinary application where paste shortcuts work.
	ClassGUI TargetClass = iota
	// ClassTerminal is a terminal-like window where paste shortcuts are
	// unreliable and keystroke simulation is safer.
	ClassTerminal
)

// Classifier decides what kind of window currently has focus. The exact
// heuristic is host-specific, so it is pluggable.
type Classifier interface {
	Classify() TargetClass
}

// keyboard and clipboard abstract robotgo so tests run without a display.
type keyboard interface {
	TypeStr(s string) error
	KeyTap(key string, mods ...string) error
}

type clipboard interface {
	Read() (string, error)
	Write(s string) error
}

type robotKeyboard struct{}

func (robotKeyboard) TypeStr(s string) error {
	robotgo.TypeStr(s)
	return nil
}

func (robotKeyboard) KeyTap(key string, mods ...string) error {
	args := make([]interface{}, len(mods))
	for i, m := range mods {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

type robotClipboard struct{}

func (robotClipboard) Read() (string, error) { return robotgo.ReadAll() }
func (robotClipboard) Write(s string) error  { return robotgo.WriteAll(s) }

// titleClassifier matches the focused window title against a list of
// terminal identifiers.
type titleClassifier struct {
	terminalClasses []string
	windowTitle     func() string
}

func (c *titleClassifier) Classify() TargetClass {
	title := strings.ToLower(c.windowTitle())
	for _, class := range c.terminalClasses {
		if class != "" && strings.Contains(title, strings.ToLower(class)) {
			return ClassTerminal
		}
	}
	return ClassGUI
}

// Config holds injection settings.
type Config struct {
	Method          string // "auto", "type", or "paste"
	TypeDelay       time.Duration
	Settle          time.Duration
	TerminalClasses []string
	Classifier      Classifier // optional override of the default heuristic
}

// Injector types or pastes text into the active application.
type Injector struct {
	method     string
	typeDelay  time.Duration
	settle     time.Duration
	classifier Classifier
	kb         keyboard
	cb         clipboard
	pasteMod   string
	sleep      func(time.Duration)
}

// NewInjector creates an Injector. With method "auto" the strategy is
// chosen per call from the focused window class.
func NewInjector(cfg Config) *Injector {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = &titleClassifier{
			terminalClasses: cfg.TerminalClasses,
			windowTitle:     robotgo.GetTitle,
		}
	}

	pasteMod := "ctrl"
	if runtime.GOOS == "darwin" {
		pasteMod = "cmd"
	}

	return &Injector{
		method:     cfg.Method,
		typeDelay:  cfg.TypeDelay,
		settle:     cfg.Settle,
		classifier: classifier,
		kb:         robotKeyboard{},
		cb:         robotClipboard{},
		pasteMod:   pasteMod,
		sleep:      time.Sleep,
	}
}

// Inject delivers text using the configured or inferred strategy. It
// never panics; delivery problems come back as wrapped errors and the
// transcription result remains valid regardless.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.resolveMethod() {
	case "paste":
		return inj.paste(text)
	default:
		return inj.typeText(text)
	}
}

func (inj *Injector) resolveMethod() string {
	switch inj.method {
	case "type", "paste":
		return inj.method
	}
	if inj.classifier.Classify() == ClassTerminal {
		return "type"
	}
	return "paste"
}

// typeText simulates individual keystrokes with a small delay between
// characters so the target application keeps up.
func (inj *Injector) typeText(text string) error {
	runes := []rune(text)
	for i, r := range runes {
		if err := inj.kb.TypeStr(string(r)); err != nil {
			if i > 0 {
				return fmt.Errorf("%w: typed %d of %d characters: %v", ErrPartial, i, len(runes), err)
			}
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
		if inj.typeDelay > 0 {
			inj.sleep(inj.typeDelay)
		}
	}
	return nil
}

// paste copies text to the clipboard, sends the paste shortcut, and
// restores the previous clipboard contents. Restoration is attempted
// even when the paste itself fails.
func (inj *Injector) paste(text string) error {
	prev, prevErr := inj.cb.Read()

	if err := inj.cb.Write(text); err != nil {
		return fmt.Errorf("%w: write to clipboard: %v", ErrPermission, err)
	}

	inj.sleep(inj.settle)
	tapErr := inj.kb.KeyTap("v", inj.pasteMod)
	inj.sleep(inj.settle)

	// Put the user's clipboard back, best effort.
	var restoreErr error
	if prevErr == nil {
		restoreErr = inj.cb.Write(prev)
	}

	if tapErr != nil {
		return fmt.Errorf("%w: paste shortcut: %v", ErrPartial, tapErr)
	}
	if restoreErr != nil {
		return fmt.Errorf("%w: restore clipboard: %v", ErrPartial, restoreErr)
	}
	return nil
}
