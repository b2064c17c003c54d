// Package models downloads whisper ggml model files from HuggingFace.
package models

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
)

const defaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// catalog maps model names to approximate download sizes, for the
// prompt shown before large downloads.
var catalog = map[string]string{
	"tiny":      "~75 MB",
	"tiny.en":   "~75 MB",
	"base":      "~142 MB",
	"base.en":   "~142 MB",
	"small":     "~466 MB",
	"small.en":  "~466 MB",
	"medium":    "~1.5 GB",
	"medium.en": "~1.5 GB",
	"large-v3":  "~2.9 GB",
}

// Names returns the known model names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FileName returns the on-disk file name for a known model name.
func FileName(name string) (string, error) {
	if _, ok := catalog[name]; !ok {
		return "", fmt.Errorf("unknown model %q (known: %v)", name, Names())
	}
	return "ggml-" + name + ".bin", nil
}

// Downloader fetches model files into a directory. Zero-value fields
// fall back to the public HuggingFace mirror and default HTTP client.
type Downloader struct {
	BaseURL string
	Dir     string
	Client  *http.Client
	Out     io.Writer // progress output; nil discards
}

func (d *Downloader) baseURL() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return defaultBaseURL
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return io.Discard
}

// Download fetches the named model unless it is already present,
// returning the local path. The file is written to a temp name and
// renamed only after a complete download, so an interrupted fetch never
// leaves a truncated model behind.
func (d *Downloader) Download(name string) (string, error) {
	fileName, err := FileName(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating models dir: %w", err)
	}

	destPath := filepath.Join(d.Dir, fileName)
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Fprintf(d.out(), "model already exists: %s (%.0f MB)\n", destPath, float64(info.Size())/(1024*1024))
		return destPath, nil
	}

	url := d.baseURL() + "/" + fileName
	fmt.Fprintf(d.out(), "downloading %s (%s)\n  from %s\n  to   %s\n", name, catalog[name], url, destPath)

	resp, err := d.client().Get(url)
	if err != nil {
		return "", fmt.Errorf("downloading model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	pr := &progressWriter{
		writer: f,
		out:    d.out(),
		total:  resp.ContentLength,
		label:  fileName,
	}

	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing model file: %w", err)
	}

	fmt.Fprintf(d.out(), "\ndownloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("moving model file: %w", err)
	}

	return destPath, nil
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
