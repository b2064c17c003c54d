package models

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileName(t *testing.T) {
	got, err := FileName("base.en")
	if err != nil {
		t.Fatalf("FileName() error = %v", err)
	}
	if got != "ggml-base.en.bin" {
		t.Errorf("FileName() = %q, want %q", got, "ggml-base.en.bin")
	}

	if _, err := FileName("enormous"); err == nil {
		t.Error("FileName() accepted an unknown model name")
	}
}

func TestDownload(t *testing.T) {
	payload := []byte("not really a ggml model")
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/ggml-tiny.bin" {
			t.Errorf("request path = %q, want /ggml-tiny.bin", r.URL.Path)
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	d := &Downloader{BaseURL: srv.URL, Dir: dir, Out: &out}

	path, err := d.Download("tiny")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if path != filepath.Join(dir, "ggml-tiny.bin") {
		t.Errorf("Download() path = %q", path)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading model: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("model content = %q, want %q", got, payload)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after download")
	}

	// Second call must reuse the existing file.
	if _, err := d.Download("tiny"); err != nil {
		t.Fatalf("Download() second call error = %v", err)
	}
	if requests != 1 {
		t.Errorf("server hit %d times, want 1", requests)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("output missing reuse notice: %q", out.String())
	}
}

func TestDownloadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	d := &Downloader{BaseURL: srv.URL, Dir: t.TempDir()}
	if _, err := d.Download("tiny"); err == nil {
		t.Fatal("Download() succeeded against a 404")
	}
	if _, err := os.Stat(filepath.Join(d.Dir, "ggml-tiny.bin")); !os.IsNotExist(err) {
		t.Error("model file created despite failed download")
	}
}

func TestProgressWriter(t *testing.T) {
	var dst, out bytes.Buffer
	pw := &progressWriter{writer: &dst, out: &out, total: 100, label: "test"}

	n, err := pw.Write(make([]byte, 50))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 50 || pw.written != 50 {
		t.Errorf("Write() n = %d, written = %d, want 50/50", n, pw.written)
	}
	if !strings.Contains(out.String(), "50%") {
		t.Errorf("progress output = %q, want 50%%", out.String())
	}
}
