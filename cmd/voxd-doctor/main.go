// Command voxd-doctor reports which transcription backends are usable on
// this machine and why the others are not.
//
// Usage:
//
//	go run ./cmd/voxd-doctor [--config path]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/voxd/voxd/internal/backend"
	"github.com/voxd/voxd/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/voxd/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	detector := &backend.Detector{
		ModelPath:       cfg.ModelPath,
		CloudEndpoint:   cfg.Cloud.Endpoint,
		CloudCredential: cfg.Cloud.ResolveAPIKey(),
	}

	fmt.Println("Backend report:")
	for _, c := range detector.Detect() {
		status := "ok"
		if !c.Available {
			status = "unavailable: " + c.Reason
		}
		fmt.Printf("  %-24s %s\n", c.Name, status)
	}
	fmt.Printf("Recommended threads: %d\n", detector.RecommendedThreads())

	chosen, fellBack, err := detector.Select(cfg.Backend)
	if err != nil {
		fmt.Printf("Selection: none (%v)\n", err)
		os.Exit(1)
	}
	if fellBack {
		fmt.Printf("Selection: %s (configured %q unavailable)\n", chosen.Name, cfg.Backend)
	} else {
		fmt.Printf("Selection: %s\n", chosen.Name)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}
