package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ModelPath string          `yaml:"model_path"`
	Backend   string          `yaml:"backend"` // "" (auto), "local-gpu", "local-cpu", "cloud"
	Hotkey    HotkeyConfig    `yaml:"hotkey"`
	Audio     AudioConfig     `yaml:"audio"`
	ASR       ASRConfig       `yaml:"asr"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Translate TranslateConfig `yaml:"translate"`
	Inject    InjectConfig    `yaml:"inject"`
	History   HistoryConfig   `yaml:"history"`
	LogLevel  string          `yaml:"log_level"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	TranscribeKeys []string `yaml:"transcribe_keys"`
	TranslateKeys  []string `yaml:"translate_keys"`
	DebounceMs     int      `yaml:"debounce_ms"`      // hold time before recording starts
	ShortTapNotify bool     `yaml:"short_tap_notify"` // emit a cue when a tap is too short
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate    uint32 `yaml:"sample_rate"`
	Channels      uint32 `yaml:"channels"`
	MinDurationMs int    `yaml:"min_duration_ms"` // recordings shorter than this are dropped
	SaveWAV       bool   `yaml:"save_wav"`        // dump each capture to a WAV file
	WAVDir        string `yaml:"wav_dir"`
}

// ASRConfig holds local inference settings.
type ASRConfig struct {
	Language string `yaml:"language"`  // source language hint, "" for auto-detect
	Threads  int    `yaml:"threads"`   // 0 = derive from CPU count
	BeamSize int    `yaml:"beam_size"` // 0 = greedy decoding
}

// CloudConfig holds remote transcription API settings.
type CloudConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"` // environment variable holding the key
	Model      string `yaml:"model"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
}

// ResolveAPIKey returns the configured key, preferring the literal value
// over the environment variable.
func (c CloudConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// TranslateConfig holds translation stage settings.
type TranslateConfig struct {
	Provider            string `yaml:"provider"` // "openai", "ollama", or "none"
	Endpoint            string `yaml:"endpoint"`
	APIKey              string `yaml:"api_key"`
	Model               string `yaml:"model"`
	TargetLang          string `yaml:"target_lang"`
	DeliverUntranslated bool   `yaml:"deliver_untranslated"` // on failure, deliver the raw transcript
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method          string   `yaml:"method"` // "auto", "type", or "paste"
	TypeDelayMs     int      `yaml:"type_delay_ms"`
	SettleMs        int      `yaml:"settle_ms"`
	TerminalClasses []string `yaml:"terminal_classes"` // window names treated as terminals
}

// HistoryConfig holds transcript history settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "voxd")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voxd")
}

// DefaultModelsDir returns the directory model downloads land in.
func DefaultModelsDir() string {
	return filepath.Join(defaultDataDir(), "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		ModelPath: filepath.Join(dataDir, "models", "ggml-base.bin"),
		Backend:   "",
		Hotkey: HotkeyConfig{
			TranscribeKeys: []string{"ctrl", "shift", "r"},
			TranslateKeys:  []string{"ctrl", "shift", "t"},
			DebounceMs:     300,
			ShortTapNotify: false,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			MinDurationMs: 1000,
			SaveWAV:       false,
			WAVDir:        filepath.Join(dataDir, "recordings"),
		},
		ASR: ASRConfig{
			Language: "",
			Threads:  0,
			BeamSize: 0,
		},
		Cloud: CloudConfig{
			Endpoint:   "",
			APIKeyEnv:  "VOXD_API_KEY",
			Model:      "whisper-1",
			TimeoutMs:  10000,
			MaxRetries: 2,
		},
		Translate: TranslateConfig{
			Provider:            "none",
			TargetLang:          "en",
			DeliverUntranslated: true,
		},
		Inject: InjectConfig{
			Method:          "auto",
			TypeDelayMs:     2,
			SettleMs:        50,
			TerminalClasses: []string{"terminal", "iterm", "alacritty", "kitty", "konsole", "wezterm"},
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelPath = expandTilde(cfg.ModelPath)
	cfg.Audio.WAVDir = expandTilde(cfg.Audio.WAVDir)
	cfg.History.Path = expandTilde(cfg.History.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", "local-gpu", "local-cpu", "cloud":
	default:
		return fmt.Errorf("backend must be empty, \"local-gpu\", \"local-cpu\", or \"cloud\", got %q", c.Backend)
	}

	if len(c.Hotkey.TranscribeKeys) == 0 {
		return fmt.Errorf("hotkey.transcribe_keys must not be empty")
	}

	if c.Hotkey.DebounceMs < 0 {
		return fmt.Errorf("hotkey.debounce_ms must be >= 0")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.MinDurationMs < 0 {
		return fmt.Errorf("audio.min_duration_ms must be >= 0")
	}

	if c.Backend == "cloud" && c.Cloud.Endpoint == "" {
		return fmt.Errorf("cloud.endpoint must be set when backend is pinned to cloud")
	}

	if c.Cloud.MaxRetries < 0 {
		return fmt.Errorf("cloud.max_retries must be >= 0")
	}

	switch c.Translate.Provider {
	case "none", "openai", "ollama":
	default:
		return fmt.Errorf("translate.provider must be \"none\", \"openai\", or \"ollama\", got %q", c.Translate.Provider)
	}

	switch c.Inject.Method {
	case "auto", "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"auto\", \"type\", or \"paste\", got %q", c.Inject.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
