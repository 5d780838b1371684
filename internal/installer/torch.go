package installer

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

var goos = runtime.GOOS

// GPU selects the accelerator build of torch to install.
type GPU string

const (
	GPUNone     GPU = ""
	GPUNvidia   GPU = "nvidia"
	GPUAMD      GPU = "amd"
	GPUMSeries  GPU = "m-series"
	GPUIntelArc GPU = "intel-arc"
	GPUCPU      GPU = "cpu"
)

const torchIndex = "https://download.pytorch.org/whl/"

// TorchArgs returns the pip arguments installing torch for gpu on the given
// operating system, or nil when nothing should be installed.
func TorchArgs(gpu GPU, goos string) []string {
	packages := []string{"torch", "torchvision", "torchaudio"}
	switch gpu {
	case GPUNvidia:
		return append(packages, "--extra-index-url", torchIndex+"cu121")
	case GPUAMD:
		if goos == "windows" {
			return []string{"torch-directml"}
		}
		return append(packages, "--extra-index-url", torchIndex+"rocm6.0")
	case GPUMSeries:
		return append(append([]string{"--pre"}, packages...), "--extra-index-url", torchIndex+"nightly/cpu")
	case GPUIntelArc:
		return append(packages, "--extra-index-url", torchIndex+"xpu")
	case GPUCPU:
		return append(packages, "--extra-index-url", torchIndex+"cpu")
	}
	return nil
}

// ParseGPU validates a GPU name.
func ParseGPU(v string) (GPU, error) {
	switch g := GPU(strings.ToLower(strings.TrimSpace(v))); g {
	case GPUNone, GPUNvidia, GPUAMD, GPUMSeries, GPUIntelArc, GPUCPU:
		return g, nil
	}
	return GPUNone, fmt.Errorf("unknown gpu %q", v)
}

func parentDir(p string) string {
	return filepath.Dir(filepath.Clean(p))
}

func lastLine(b []byte) string {
	text := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}
