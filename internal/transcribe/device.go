package transcribe

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Device is the compute device a local model runs on.
type Device string

const (
	DeviceCPU   Device = "cpu"
	DeviceCUDA  Device = "cuda"
	DeviceMetal Device = "metal"
)

var (
	detectOnce sync.Once
	detected   Device
)

// DetectDevice resolves pref ("auto", "cpu", "cuda", "metal") to a device.
// Probing happens once per process; later calls return the first result.
func DetectDevice(pref string) Device {
	detectOnce.Do(func() {
		detected = detect(pref, exec.LookPath, runtime.GOOS, runtime.GOARCH)
	})
	return detected
}

func detect(pref string, look func(string) (string, error), goos, goarch string) Device {
	switch Device(strings.ToLower(strings.TrimSpace(pref))) {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA:
		return DeviceCUDA
	case DeviceMetal:
		return DeviceMetal
	}
	if _, err := look("nvidia-smi"); err == nil {
		return DeviceCUDA
	}
	if goos == "darwin" && goarch == "arm64" {
		return DeviceMetal
	}
	return DeviceCPU
}
