package backend

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeHost builds a Detector with all probes stubbed. Fields describe the
// simulated machine.
type fakeHost struct {
	modelSize   int64 // 0 = model file missing
	freeMem     uint64
	nvidiaSmi   bool
	vulkanLib   bool
	goos        string
	goarch      string
	endpoint    string
	credential  string
	cores       int
	commandsRun []string
}

func (h *fakeHost) detector() *Detector {
	return &Detector{
		ModelPath:       "/models/ggml-base.bin",
		CloudEndpoint:   h.endpoint,
		CloudCredential: h.credential,
		RunCommand: func(name string, args ...string) (string, error) {
			h.commandsRun = append(h.commandsRun, name)
			if name == "nvidia-smi" && h.nvidiaSmi {
				return "NVIDIA-SMI 550.54 Driver Version: 550.54", nil
			}
			return "", fmt.Errorf("%s: command not found", name)
		},
		StatSize: func(path string) (int64, bool) {
			if path == "/models/ggml-base.bin" {
				return h.modelSize, h.modelSize > 0
			}
			if h.vulkanLib && strings.Contains(path, "libvulkan") {
				return 1 << 20, true
			}
			return 0, false
		},
		FreeMemory: func() (uint64, error) { return h.freeMem, nil },
		CPUCount:   func() (int, error) { return h.cores, nil },
		GOOS:       h.goos,
		GOARCH:     h.goarch,
	}
}

func TestDetectNoGPUDriver(t *testing.T) {
	h := &fakeHost{
		modelSize:  150 << 20,
		freeMem:    8 << 30,
		goos:       "linux",
		goarch:     "amd64",
		endpoint:   "https://api.example.com/v1/audio/transcriptions",
		credential: "sk-test",
		cores:      8,
	}

	caps := h.detector().Detect()
	if len(caps) != 3 {
		t.Fatalf("Detect() returned %d entries, want 3", len(caps))
	}

	gpu := caps[0]
	if gpu.Kind != KindLocalGPU {
		t.Fatalf("first entry Kind = %v, want KindLocalGPU", gpu.Kind)
	}
	if gpu.Available {
		t.Error("GPU should be unavailable without a driver")
	}
	if gpu.Reason == "" {
		t.Error("unavailable GPU entry must carry a diagnostic reason")
	}

	if !caps[1].Available {
		t.Errorf("CPU backend should be available, reason: %s", caps[1].Reason)
	}
	if !caps[2].Available {
		t.Errorf("cloud backend should be available, reason: %s", caps[2].Reason)
	}

	// Selection must never pick the GPU entry.
	sel, fellBack, err := h.detector().Select("")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Kind == KindLocalGPU {
		t.Error("Select() picked an unavailable GPU backend")
	}
	if fellBack {
		t.Error("Select() with no pin should not report fallback")
	}
}

func TestDetectGPUAvailable(t *testing.T) {
	h := &fakeHost{
		modelSize: 150 << 20,
		freeMem:   8 << 30,
		nvidiaSmi: true,
		goos:      "linux",
		goarch:    "amd64",
		cores:     8,
	}

	caps := h.detector().Detect()
	gpu := caps[0]
	if !gpu.Available {
		t.Fatalf("GPU should be available, reason: %s", gpu.Reason)
	}
	if !strings.Contains(gpu.Name, "cuda") {
		t.Errorf("GPU Name = %q, want the accelerator named", gpu.Name)
	}
}

func TestDetectVulkanFallback(t *testing.T) {
	h := &fakeHost{
		modelSize: 150 << 20,
		freeMem:   8 << 30,
		vulkanLib: true,
		goos:      "linux",
		goarch:    "amd64",
		cores:     8,
	}

	caps := h.detector().Detect()
	if !caps[0].Available {
		t.Fatalf("GPU via Vulkan should be available, reason: %s", caps[0].Reason)
	}
	if !strings.Contains(caps[0].Name, "vulkan") {
		t.Errorf("GPU Name = %q, want vulkan", caps[0].Name)
	}
}

func TestDetectMetalOnAppleSilicon(t *testing.T) {
	h := &fakeHost{
		modelSize: 150 << 20,
		freeMem:   8 << 30,
		goos:      "darwin",
		goarch:    "arm64",
		cores:     8,
	}

	caps := h.detector().Detect()
	if !caps[0].Available {
		t.Fatalf("Metal GPU should be available, reason: %s", caps[0].Reason)
	}
}

func TestDetectMissingModel(t *testing.T) {
	h := &fakeHost{
		freeMem:    8 << 30,
		goos:       "linux",
		goarch:     "amd64",
		endpoint:   "https://api.example.com",
		credential: "sk-test",
		cores:      4,
	}

	caps := h.detector().Detect()
	for _, c := range caps[:2] {
		if c.Available {
			t.Errorf("%s should be unavailable without a model file", c.Name)
		}
		if !strings.Contains(c.Reason, "model file not found") {
			t.Errorf("%s Reason = %q, want model-file diagnostic", c.Name, c.Reason)
		}
	}

	sel, _, err := h.detector().Select("")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Kind != KindCloud {
		t.Errorf("Select() = %v, want cloud when local backends lack a model", sel.Kind)
	}
}

func TestDetectLowMemory(t *testing.T) {
	h := &fakeHost{
		modelSize: 3 << 30,
		freeMem:   1 << 30,
		nvidiaSmi: true,
		goos:      "linux",
		goarch:    "amd64",
		cores:     8,
	}

	caps := h.detector().Detect()
	for _, c := range caps[:2] {
		if c.Available {
			t.Errorf("%s should be unavailable with insufficient memory", c.Name)
		}
		if !strings.Contains(c.Reason, "memory") {
			t.Errorf("%s Reason = %q, want memory diagnostic", c.Name, c.Reason)
		}
	}
}

func TestDetectCloudNotConfigured(t *testing.T) {
	h := &fakeHost{goos: "linux", goarch: "amd64", cores: 2}

	d := h.detector()
	caps := d.Detect()
	cloud := caps[2]
	if cloud.Available {
		t.Error("cloud should be unavailable without endpoint/credential")
	}
	if !strings.Contains(cloud.Reason, "endpoint") {
		t.Errorf("Reason = %q, want endpoint diagnostic", cloud.Reason)
	}

	_, _, err := d.Select("")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Select() error = %v, want ErrUnavailable", err)
	}
}

func TestSelectPinHonoredAndFallback(t *testing.T) {
	h := &fakeHost{
		modelSize:  150 << 20,
		freeMem:    8 << 30,
		goos:       "linux",
		goarch:     "amd64",
		endpoint:   "https://api.example.com",
		credential: "sk-test",
		cores:      8,
	}

	d := h.detector()
	d.Detect()

	sel, fellBack, err := d.Select("cloud")
	if err != nil {
		t.Fatalf("Select(cloud) error = %v", err)
	}
	if sel.Kind != KindCloud || fellBack {
		t.Errorf("Select(cloud) = %v fellBack=%v, want pinned cloud honored", sel.Kind, fellBack)
	}

	// Pinned GPU is unavailable on this host: expect fallback to CPU.
	sel, fellBack, err = d.Select("local-gpu")
	if err != nil {
		t.Fatalf("Select(local-gpu) error = %v", err)
	}
	if sel.Kind != KindLocalCPU {
		t.Errorf("Select(local-gpu) = %v, want fallback to local-cpu", sel.Kind)
	}
	if !fellBack {
		t.Error("Select(local-gpu) should report fallback")
	}
}

func TestCapabilitiesSnapshotIsolated(t *testing.T) {
	h := &fakeHost{
		modelSize: 150 << 20,
		freeMem:   8 << 30,
		goos:      "linux",
		goarch:    "amd64",
		cores:     8,
	}

	d := h.detector()
	first := d.Capabilities() // triggers the initial probe
	first[0].Available = true
	first[0].Reason = "mutated"

	second := d.Capabilities()
	if second[0].Reason == "mutated" {
		t.Error("mutating a returned snapshot must not affect the cached list")
	}
}

func TestRecommendedThreads(t *testing.T) {
	tests := []struct {
		cores int
		want  int
	}{
		{1, 1},
		{2, 1},
		{4, 3},
		{8, 8},
		{16, 16},
		{0, 1},
	}

	for _, tt := range tests {
		d := &Detector{CPUCount: func() (int, error) { return tt.cores, nil }}
		if got := d.RecommendedThreads(); got != tt.want {
			t.Errorf("RecommendedThreads() with %d cores = %d, want %d", tt.cores, got, tt.want)
		}
	}
}
