// Package device selects the compute backend for a generation run.
package device

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Kind names a compute backend.
type Kind string

const (
	// Auto resolves to the first available of CUDA, MPS, CPU.
	Auto Kind = "auto"
	// CPU is always available.
	CPU Kind = "cpu"
	// CUDA is the NVIDIA GPU backend.
	CUDA Kind = "cuda"
	// MPS is the Apple-silicon accelerator backend.
	MPS Kind = "mps"
)

// ParseKind validates a user-supplied device name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case Auto, CPU, CUDA, MPS:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, cuda, or mps)", raw)
	}
}

// Availability reports which accelerator runtimes are usable on this host.
// It exists so resolution logic can be exercised independent of hardware.
type Availability interface {
	HasCUDA() bool
	HasMPS() bool
}

// Resolve returns an explicit device choice unmodified. For Auto it selects
// the first available of CUDA, MPS, CPU, in that order. Pure function of the
// probe; no side effects.
func Resolve(requested Kind, avail Availability) (Kind, error) {
	switch requested {
	case CPU, CUDA, MPS:
		return requested, nil
	case Auto:
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, cuda, or mps)", requested)
	}

	if avail == nil {
		return "", fmt.Errorf("device availability probe cannot be nil")
	}
	if avail.HasCUDA() {
		return CUDA, nil
	}
	if avail.HasMPS() {
		return MPS, nil
	}
	return CPU, nil
}

// Detect returns the host availability probe.
func Detect() Availability {
	return hostAvailability{}
}

type hostAvailability struct{}

// HasCUDA reports whether an NVIDIA driver appears present: either the
// kernel driver's proc entry or an nvidia-smi binary on PATH.
func (hostAvailability) HasCUDA() bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// HasMPS reports whether this is an Apple-silicon host.
func (hostAvailability) HasMPS() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
