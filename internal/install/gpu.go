package install

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// HasNvidiaGPU tries to guess if there is an actual NVIDIA GPU installed (as
// opposed to only drivers present but no hardware). It checks for the device
// files in /dev/nvidia* and falls back to running nvidia-smi.
var HasNvidiaGPU = sync.OnceValue[bool](func() bool {
	matches, err := filepath.Glob("/dev/nvidia*")
	if err == nil && len(matches) > 0 {
		return true
	}

	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return false
	}
	output, err := exec.Command("nvidia-smi").CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), "NVIDIA-SMI")
})

// DriverInstalled reports whether the NVIDIA management tooling is on PATH.
// A GPU without drivers still needs the CUDA install step.
func DriverInstalled() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}
