package logx

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelDefaultsToWarn(t *testing.T) {
	t.Setenv("COMFY_LOG_LEVEL", "")
	if got := Level(); got != "warn" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("COMFY_LOG_LEVEL", "debug")
	if got := Level(); got != "debug" {
		t.Fatalf("got %q", got)
	}
}

func TestConsoleFiltersBelowLevel(t *testing.T) {
	t.Setenv("COMFY_LOG_LEVEL", "warn")
	var buf bytes.Buffer
	logger := New("comfy", &buf)

	logger.Debug("hidden detail")
	logger.Warn("visible warning", "path", "/srv/comfy")

	out := buf.String()
	if strings.Contains(out, "hidden detail") {
		t.Fatalf("debug message leaked to console: %s", out)
	}
	if !strings.Contains(out, "visible warning") || !strings.Contains(out, "/srv/comfy") {
		t.Fatalf("warning missing from console: %s", out)
	}
}

func TestAttachFileCapturesDebug(t *testing.T) {
	t.Setenv("COMFY_LOG_LEVEL", "error")
	var console bytes.Buffer
	logger := New("comfy", &console)

	path, closer, err := AttachFile(logger, t.TempDir())
	if err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	logger.Debug("clone started", "url", "https://example.com/repo")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	logger.Debug("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "clone started") {
		t.Fatalf("expected debug line in file, got %q", data)
	}
	if strings.Contains(string(data), "after close") {
		t.Fatalf("sink still attached after close")
	}
	if console.Len() != 0 {
		t.Fatalf("console should be quiet at error level, got %q", console.String())
	}
}
