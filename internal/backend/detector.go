// Package backend probes the host for usable inference backends and ranks
// them for selection. Probes never fail hard: an unusable backend is
// reported with a human-readable reason instead of an error.
package backend

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// ErrUnavailable indicates that no backend at all is usable.
var ErrUnavailable = errors.New("no usable backend")

// Kind classifies a backend capability.
type Kind int

const (
	KindLocalGPU Kind = iota
	KindLocalCPU
	KindCloud
)

func (k Kind) String() string {
	switch k {
	case KindLocalGPU:
		return "local-gpu"
	case KindLocalCPU:
		return "local-cpu"
	case KindCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// Capability describes one probed backend.
type Capability struct {
	Name      string
	Kind      Kind
	Available bool
	Rank      int    // lower is preferred
	Reason    string // why unavailable; empty when available
}

// minFreeMemory is the headroom required beyond the model file itself.
const minFreeMemory = 512 << 20

// vulkanLoaderPaths are the loader library locations checked for Vulkan
// support on Linux.
var vulkanLoaderPaths = []string{
	"/usr/lib/x86_64-linux-gnu/libvulkan.so.1",
	"/usr/lib/x86_64-linux-gnu/libvulkan.so",
	"/usr/lib/libvulkan.so.1",
	"/usr/lib/libvulkan.so",
}

// Detector probes the host for usable backends. Probe functions are fields
// so tests can substitute fakes; zero-value fields fall back to the real
// system probes.
type Detector struct {
	ModelPath       string
	CloudEndpoint   string
	CloudCredential string

	// Injectable probes.
	RunCommand func(name string, args ...string) (string, error)
	StatSize   func(path string) (int64, bool)
	FreeMemory func() (uint64, error)
	CPUCount   func() (int, error)
	GOOS       string
	GOARCH     string

	mu   sync.RWMutex
	last []Capability
}

func (d *Detector) runCommand(name string, args ...string) (string, error) {
	if d.RunCommand != nil {
		return d.RunCommand(name, args...)
	}
	out, err := exec.Command(name, args...).Output()
	return string(out), err
}

func (d *Detector) statSize(path string) (int64, bool) {
	if d.StatSize != nil {
		return d.StatSize(path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func (d *Detector) freeMemory() (uint64, error) {
	if d.FreeMemory != nil {
		return d.FreeMemory()
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func (d *Detector) cpuCount() (int, error) {
	if d.CPUCount != nil {
		return d.CPUCount()
	}
	return cpu.Counts(true)
}

func (d *Detector) goos() string {
	if d.GOOS != "" {
		return d.GOOS
	}
	return runtime.GOOS
}

func (d *Detector) goarch() string {
	if d.GOARCH != "" {
		return d.GOARCH
	}
	return runtime.GOARCH
}

// Detect probes all backends and returns them ordered by rank. The result
// is cached; callers get a copy so a concurrent re-probe cannot race a read.
func (d *Detector) Detect() []Capability {
	caps := []Capability{
		d.probeGPU(),
		d.probeCPU(),
		d.probeCloud(),
	}

	d.mu.Lock()
	d.last = caps
	d.mu.Unlock()

	return snapshot(caps)
}

// Capabilities returns the result of the last probe, running one if none
// has happened yet.
func (d *Detector) Capabilities() []Capability {
	d.mu.RLock()
	last := d.last
	d.mu.RUnlock()

	if last == nil {
		return d.Detect()
	}
	return snapshot(last)
}

func snapshot(caps []Capability) []Capability {
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Select returns the backend to use. A pinned backend is honored when
// available; otherwise the best available entry wins and fellBack reports
// that the pin could not be honored.
func (d *Detector) Select(pin string) (Capability, bool, error) {
	caps := d.Capabilities()

	if pin != "" {
		for _, c := range caps {
			if c.Kind.String() == pin && c.Available {
				return c, false, nil
			}
		}
	}

	for _, c := range caps {
		if c.Available {
			return c, pin != "", nil
		}
	}

	var reasons []string
	for _, c := range caps {
		reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name, c.Reason))
	}
	return Capability{}, false, fmt.Errorf("%w (%s)", ErrUnavailable, strings.Join(reasons, "; "))
}

// RecommendedThreads returns the inference thread count: all cores, minus
// one reserved for the event loop on small machines.
func (d *Detector) RecommendedThreads() int {
	n, err := d.cpuCount()
	if err != nil || n <= 0 {
		return 1
	}
	if n <= 4 && n > 1 {
		return n - 1
	}
	return n
}

func (d *Detector) probeGPU() Capability {
	c := Capability{Name: "local-gpu", Kind: KindLocalGPU, Rank: 0}

	size, ok := d.statSize(d.ModelPath)
	if !ok {
		c.Reason = fmt.Sprintf("model file not found at %s", d.ModelPath)
		return c
	}

	accel, reason := d.probeAccelerator()
	if accel == "" {
		c.Reason = reason
		return c
	}

	free, err := d.freeMemory()
	if err != nil {
		c.Reason = fmt.Sprintf("cannot read memory info: %v", err)
		return c
	}
	if free < uint64(size)+minFreeMemory {
		c.Reason = fmt.Sprintf("insufficient free memory: %d MiB free, model needs %d MiB plus headroom",
			free>>20, size>>20)
		return c
	}

	c.Available = true
	c.Name = "local-gpu (" + accel + ")"
	return c
}

// probeAccelerator checks for a usable GPU runtime in priority order:
// CUDA via nvidia-smi, Vulkan via the loader library, Metal on Apple
// Silicon. Returns the accelerator name or an aggregate reason.
func (d *Detector) probeAccelerator() (string, string) {
	var reasons []string

	if out, err := d.runCommand("nvidia-smi"); err == nil &&
		strings.Contains(out, "NVIDIA-SMI") && strings.Contains(out, "Driver Version") {
		return "cuda", ""
	}
	reasons = append(reasons, "no NVIDIA driver")

	vulkan := false
	for _, p := range vulkanLoaderPaths {
		if _, ok := d.statSize(p); ok {
			vulkan = true
			break
		}
	}
	if !vulkan {
		if out, err := d.runCommand("vulkaninfo"); err == nil && strings.Contains(out, "Vulkan Instance") {
			vulkan = true
		}
	}
	if vulkan {
		return "vulkan", ""
	}
	reasons = append(reasons, "no Vulkan loader")

	if d.goos() == "darwin" && d.goarch() == "arm64" {
		return "metal", ""
	}
	reasons = append(reasons, "not Apple Silicon")

	return "", strings.Join(reasons, ", ")
}

func (d *Detector) probeCPU() Capability {
	c := Capability{Name: "local-cpu", Kind: KindLocalCPU, Rank: 1}

	size, ok := d.statSize(d.ModelPath)
	if !ok {
		c.Reason = fmt.Sprintf("model file not found at %s", d.ModelPath)
		return c
	}

	free, err := d.freeMemory()
	if err != nil {
		c.Reason = fmt.Sprintf("cannot read memory info: %v", err)
		return c
	}
	if free < uint64(size)+minFreeMemory {
		c.Reason = fmt.Sprintf("insufficient free memory: %d MiB free, model needs %d MiB plus headroom",
			free>>20, size>>20)
		return c
	}

	c.Available = true
	return c
}

func (d *Detector) probeCloud() Capability {
	c := Capability{Name: "cloud", Kind: KindCloud, Rank: 2}

	// Configuration check only; no network round trip here.
	if d.CloudEndpoint == "" {
		c.Reason = "no endpoint configured"
		return c
	}
	if d.CloudCredential == "" {
		c.Reason = "no API credential configured"
		return c
	}

	c.Available = true
	return c
}
