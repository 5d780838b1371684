// Package logx builds the hclog loggers used across comfy. Console output is
// filtered by COMFY_LOG_LEVEL; mutating commands additionally keep a
// debug-level transcript in a timestamped file under the logs directory.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	levelEnv = "COMFY_LOG_LEVEL"
	jsonEnv  = "COMFY_JSON_LOG"
)

// Level returns the configured console level, defaulting to warn.
func Level() string {
	level := strings.TrimSpace(os.Getenv(levelEnv))
	if level == "" {
		level = "warn"
	}
	return level
}

// New creates the root logger writing to output (stderr when nil).
func New(name string, output io.Writer) hclog.InterceptLogger {
	if output == nil {
		output = os.Stderr
	}
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(Level()),
		JSONFormat: os.Getenv(jsonEnv) == "1",
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Discard returns a logger that drops everything.
func Discard() hclog.InterceptLogger {
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.Off})
}

type fileSink struct {
	logger hclog.InterceptLogger
	sink   hclog.SinkAdapter
	file   *os.File
}

func (f *fileSink) Close() error {
	f.logger.DeregisterSink(f.sink)
	return f.file.Close()
}

// AttachFile mirrors every message at debug level and above into a new
// timestamped file inside dir. Closing the returned closer detaches the sink.
func AttachFile(logger hclog.InterceptLogger, dir string) (string, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := time.Now().Format("20060102-150405") + ".log"
	filePath := filepath.Join(dir, filename)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("open log file: %w", err)
	}

	sink := hclog.NewSinkAdapter(&hclog.LoggerOptions{
		Level:      hclog.Debug,
		Output:     file,
		TimeFormat: time.RFC3339Nano,
	})
	logger.RegisterSink(sink)
	return filePath, &fileSink{logger: logger, sink: sink, file: file}, nil
}
