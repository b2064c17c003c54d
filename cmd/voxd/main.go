package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxd/voxd/internal/asr"
	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/backend"
	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/history"
	"github.com/voxd/voxd/internal/hotkey"
	"github.com/voxd/voxd/internal/inject"
	"github.com/voxd/voxd/internal/models"
	"github.com/voxd/voxd/internal/session"
	"github.com/voxd/voxd/internal/translate"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/voxd/config.yaml)")
	downloadModel := flag.String("download-model", "", "download a whisper model (e.g. base, small.en) and exit")
	flag.Parse()

	if *downloadModel != "" {
		d := &models.Downloader{Dir: config.DefaultModelsDir(), Out: os.Stdout}
		path, err := d.Download(*downloadModel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "download: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("model ready at %s\n", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	printBanner(cfg)

	detector := &backend.Detector{
		ModelPath:       cfg.ModelPath,
		CloudEndpoint:   cfg.Cloud.Endpoint,
		CloudCredential: cfg.Cloud.ResolveAPIKey(),
	}
	for _, c := range detector.Detect() {
		if c.Available {
			log.Info("backend available", "name", c.Name, "rank", c.Rank)
		} else {
			log.Info("backend unavailable", "name", c.Name, "reason", c.Reason)
		}
	}

	backends, closeBackends, err := buildBackends(cfg, detector, log)
	if err != nil {
		log.Error("building backends", "error", err)
		os.Exit(1)
	}
	defer closeBackends()

	recorder, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		log.Error("initializing audio recorder", "error", err)
		os.Exit(1)
	}
	defer recorder.Close()

	translator, err := translate.New(translate.Config{
		Provider:   cfg.Translate.Provider,
		Endpoint:   cfg.Translate.Endpoint,
		APIKey:     cfg.Translate.APIKey,
		Model:      cfg.Translate.Model,
		TargetLang: cfg.Translate.TargetLang,
	})
	if err != nil {
		log.Error("configuring translator", "error", err)
		os.Exit(1)
	}

	injector := inject.NewInjector(inject.Config{
		Method:          cfg.Inject.Method,
		TypeDelay:       time.Duration(cfg.Inject.TypeDelayMs) * time.Millisecond,
		Settle:          time.Duration(cfg.Inject.SettleMs) * time.Millisecond,
		TerminalClasses: cfg.Inject.TerminalClasses,
	})

	var hist session.HistorySink
	if cfg.History.Enabled {
		store, err := history.Open(context.Background(), cfg.History.Path)
		if err != nil {
			log.Warn("opening history store, continuing without history", "error", err)
		} else {
			defer store.Close()
			hist = store
		}
	}

	orch := session.New(
		session.Config{
			BackendPin:          cfg.Backend,
			Debounce:            time.Duration(cfg.Hotkey.DebounceMs) * time.Millisecond,
			MinDuration:         time.Duration(cfg.Audio.MinDurationMs) * time.Millisecond,
			Language:            cfg.ASR.Language,
			BeamSize:            cfg.ASR.BeamSize,
			Threads:             threads(cfg, detector),
			TargetLang:          cfg.Translate.TargetLang,
			DeliverUntranslated: cfg.Translate.DeliverUntranslated,
			ShortTapNotify:      cfg.Hotkey.ShortTapNotify,
			SaveWAV:             cfg.Audio.SaveWAV,
			WAVDir:              cfg.Audio.WAVDir,
		},
		log, recorder, detector, backends, translator, injector,
		&logNotifier{log: log}, hist,
	)

	listener := hotkey.NewListener(cfg.Hotkey.TranscribeKeys, cfg.Hotkey.TranslateKeys)
	log.Info("hotkey listener ready",
		"transcribe", strings.Join(cfg.Hotkey.TranscribeKeys, "+"),
		"translate", strings.Join(cfg.Hotkey.TranslateKeys, "+"),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go listener.Start()

	log.Info("ready", "hint", "hold "+strings.Join(cfg.Hotkey.TranscribeKeys, "+")+" to dictate")

	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				log.Info("hotkey listener stopped")
				return
			}
			orch.OnHotkeyEvent(ev)

		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			recorder.Close()
			closeBackends()
			// Exit directly to avoid gohook's C cleanup crash. The OS
			// reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

// buildBackends constructs one ASR backend per available capability so
// the orchestrator can also use them as fallbacks.
func buildBackends(cfg *config.Config, d *backend.Detector, log *slog.Logger) (map[backend.Kind]asr.Backend, func(), error) {
	backends := make(map[backend.Kind]asr.Backend)

	var needsModel bool
	for _, c := range d.Capabilities() {
		if c.Available && (c.Kind == backend.KindLocalGPU || c.Kind == backend.KindLocalCPU) {
			needsModel = true
		}
	}
	if needsModel {
		start := time.Now()
		local, err := asr.NewLocal(cfg.ModelPath, "whisper-local")
		if err != nil {
			return nil, nil, fmt.Errorf("loading whisper model: %w", err)
		}
		log.Info("whisper model loaded", "path", cfg.ModelPath, "elapsed", time.Since(start).Round(time.Millisecond))
		// whisper.cpp picks GPU offload itself when built with support,
		// so one model instance serves both local capabilities.
		backends[backend.KindLocalGPU] = local
		backends[backend.KindLocalCPU] = local
	}

	if cfg.Cloud.Endpoint != "" {
		backends[backend.KindCloud] = asr.NewCloud(asr.CloudConfig{
			Endpoint:   cfg.Cloud.Endpoint,
			APIKey:     cfg.Cloud.ResolveAPIKey(),
			Model:      cfg.Cloud.Model,
			Timeout:    time.Duration(cfg.Cloud.TimeoutMs) * time.Millisecond,
			MaxRetries: cfg.Cloud.MaxRetries,
		})
	}

	if len(backends) == 0 {
		return nil, nil, fmt.Errorf("no backend could be constructed: %w", backend.ErrUnavailable)
	}

	closeAll := func() {
		seen := make(map[asr.Backend]bool)
		for _, b := range backends {
			if !seen[b] {
				seen[b] = true
				b.Close()
			}
		}
	}
	return backends, closeAll, nil
}

// threads resolves the inference thread count, deriving it from the CPU
// topology when the config leaves it at zero.
func threads(cfg *config.Config, d *backend.Detector) int {
	if cfg.ASR.Threads > 0 {
		return cfg.ASR.Threads
	}
	return d.RecommendedThreads()
}

// logNotifier routes session events to the log. A desktop notification
// bridge would slot in here.
type logNotifier struct {
	log *slog.Logger
}

func (n *logNotifier) StateChanged(s session.State) {
	n.log.Debug("state changed", "state", s.String())
}

func (n *logNotifier) ResultReady(r *asr.Result) {
	n.log.Info("transcript ready",
		"text", r.Text,
		"language", r.Language,
		"backend", r.Backend,
		"rtf", fmt.Sprintf("%.2f", r.RTF()),
	)
}

func (n *logNotifier) Error(kind, msg string) {
	n.log.Warn("session event", "kind", kind, "message", msg)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func printBanner(cfg *config.Config) {
	fmt.Println("=== voxd ===")
	fmt.Printf("  Model:     %s\n", cfg.ModelPath)
	fmt.Printf("  Backend:   %s\n", backendLabel(cfg.Backend))
	fmt.Printf("  Hotkeys:   %s (transcribe), %s (translate)\n",
		strings.Join(cfg.Hotkey.TranscribeKeys, "+"), strings.Join(cfg.Hotkey.TranslateKeys, "+"))
	fmt.Printf("  Audio:     %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Inject:    %s\n", cfg.Inject.Method)
	fmt.Printf("  Translate: %s -> %s\n", translateLabel(cfg.Translate.Provider), cfg.Translate.TargetLang)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("============")
}

func backendLabel(pin string) string {
	if pin == "" {
		return "auto"
	}
	return pin
}

func translateLabel(provider string) string {
	if provider == "" {
		return "none"
	}
	return provider
}
