package launcher

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"comfycli/internal/config"
	"comfycli/internal/paths"
	"comfycli/internal/proc"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8188

	readyPath     = "/history"
	pollInterval  = 500 * time.Millisecond
	defaultReady  = 3 * time.Minute
	logTailLines  = 30
	probeDeadline = 2 * time.Second
)

// PortInUseError reports a port already bound before launch.
type PortInUseError struct {
	Host string
	Port int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port %d on %s is already in use", e.Port, e.Host)
}

func (e *PortInUseError) Remedy() string {
	return "stop the other server or pass `-- --port <n>` to launch"
}

// LaunchFailedError reports a background process that exited or never
// became ready.
type LaunchFailedError struct {
	Reason  string
	Log     string
	LogTail []string
}

func (e *LaunchFailedError) Error() string {
	return fmt.Sprintf("background launch failed: %s (log: %s)", e.Reason, e.Log)
}

// ListenAddress extracts the host and port the application will bind from
// its arguments.
func ListenAddress(extras []string) (string, int, error) {
	host, port := DefaultHost, DefaultPort
	for i := 0; i < len(extras); i++ {
		arg := extras[i]
		name, value, hasValue := strings.Cut(arg, "=")
		next := func() (string, bool) {
			if hasValue {
				return value, true
			}
			if i+1 < len(extras) && !strings.HasPrefix(extras[i+1], "-") {
				i++
				return extras[i], true
			}
			return "", false
		}
		switch name {
		case "--port":
			v, ok := next()
			if !ok {
				return "", 0, fmt.Errorf("--port needs a value")
			}
			p, err := strconv.Atoi(v)
			if err != nil || p <= 0 || p > 65535 {
				return "", 0, fmt.Errorf("invalid --port %q", v)
			}
			port = p
		case "--listen":
			v, ok := next()
			if !ok {
				// A bare --listen binds every interface.
				v = "0.0.0.0"
			}
			host = strings.TrimSpace(strings.Split(v, ",")[0])
		}
	}
	return host, port, nil
}

// probeHost maps wildcard listen addresses to loopback.
func probeHost(host string) string {
	switch host {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::":
		return "::1"
	}
	return host
}

// PortInUse reports whether something accepts connections on host:port.
func PortInUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(probeHost(host), strconv.Itoa(port)), probeDeadline)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// BackgroundOptions configures Start.
type BackgroundOptions struct {
	// Executable is the comfy binary re-invoked in the foreground mode.
	Executable string
	Extras     []string
	// ReadyTimeout bounds how long Start waits for the HTTP endpoint.
	ReadyTimeout time.Duration
}

// Start launches the application detached from the terminal and waits until
// its HTTP endpoint answers.
func (l *Launcher) Start(ctx context.Context, wp paths.WorkspacePaths, opts BackgroundOptions) (config.Background, error) {
	host, port, err := ListenAddress(opts.Extras)
	if err != nil {
		return config.Background{}, err
	}
	if PortInUse(host, port) {
		return config.Background{}, &PortInUseError{Host: host, Port: port}
	}

	exe := opts.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return config.Background{}, fmt.Errorf("locate comfy executable: %w", err)
		}
	}

	session, err := l.newSession()
	if err != nil {
		return config.Background{}, err
	}
	logPath := session + ".log"
	logFile, err := os.Create(logPath)
	if err != nil {
		return config.Background{}, fmt.Errorf("create background log: %w", err)
	}
	defer logFile.Close()

	args := []string{"--workspace=" + wp.Root, "--skip-prompt", "launch"}
	if len(opts.Extras) > 0 {
		args = append(append(args, "--"), opts.Extras...)
	}
	cmd := exec.Command(exe, args...)
	cmd.Dir = wp.Root
	cmd.Env = append(os.Environ(), BackgroundEnv+"=true", "PYTHONIOENCODING=utf-8")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	proc.Detach(cmd)

	l.Logger.Debug("starting background process", "exe", exe, "args", args, "log", logPath)
	if err := cmd.Start(); err != nil {
		return config.Background{}, fmt.Errorf("start background process: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReady
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(probeHost(host), strconv.Itoa(port)), readyPath)
	if err := waitReady(readyCtx, url, exited, pollInterval); err != nil {
		select {
		case <-exited:
		default:
			_ = proc.Kill(cmd.Process.Pid)
		}
		return config.Background{}, &LaunchFailedError{Reason: err.Error(), Log: logPath, LogTail: tail(logPath, logTailLines)}
	}

	return config.Background{Host: host, Port: port, PID: cmd.Process.Pid}, nil
}

// waitReady polls url until it answers 200, the process exits or ctx ends.
func waitReady(ctx context.Context, url string, exited <-chan struct{}, interval time.Duration) error {
	client := &http.Client{Timeout: probeDeadline}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-exited:
			return fmt.Errorf("process exited before %s answered", url)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Running reports whether the recorded background process is alive.
func Running(bg config.Background) bool {
	return proc.Alive(bg.PID)
}

// Stop kills the recorded background process.
func Stop(bg config.Background) error {
	return proc.Kill(bg.PID)
}

func tail(path string, n int) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
