package launcher

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"comfycli/internal/config"
	"comfycli/internal/paths"
)

func envValue(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func testLauncher(t *testing.T, run func(ctx context.Context, spec Spec) error) *Launcher {
	t.Helper()
	l := New(hclog.NewNullLogger(), filepath.Join(t.TempDir(), "tmp"))
	l.Python = "/usr/bin/python3"
	l.Stdout = &bytes.Buffer{}
	l.Stderr = &bytes.Buffer{}
	l.Stdin = strings.NewReader("")
	l.run = run
	return l
}

func TestRunRestartsWhileMarkerPresent(t *testing.T) {
	wp := paths.ForWorkspace(t.TempDir())
	restarts := 2
	var calls int
	var sessions []string

	l := testLauncher(t, func(_ context.Context, spec Spec) error {
		calls++
		session, ok := envValue(spec.Env, SessionEnv)
		require.True(t, ok)
		sessions = append(sessions, session)
		if calls <= restarts {
			require.NoError(t, os.WriteFile(session+".reboot", nil, 0o644))
		}
		return nil
	})

	require.NoError(t, l.Run(context.Background(), wp, []string{"--port", "9000"}))
	require.Equal(t, restarts+1, calls)
	for _, s := range sessions {
		require.Equal(t, sessions[0], s)
	}
	_, err := os.Stat(sessions[0] + ".reboot")
	require.True(t, os.IsNotExist(err))
}

func TestRunPassesArgumentsAndExitStatus(t *testing.T) {
	wp := paths.ForWorkspace(t.TempDir())
	var got Spec
	l := testLauncher(t, func(_ context.Context, spec Spec) error {
		got = spec
		return &ExitError{Code: 3}
	})

	err := l.Run(context.Background(), wp, []string{"--listen", "0.0.0.0"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())

	require.Equal(t, "/usr/bin/python3", got.Python)
	require.Equal(t, wp.Root, got.Dir)
	require.Equal(t, []string{wp.MainScript, "--listen", "0.0.0.0"}, got.Args)
	v, ok := envValue(got.Env, "PYTHONIOENCODING")
	require.True(t, ok)
	require.Equal(t, "utf-8", v)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	wp := paths.ForWorkspace(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	l := testLauncher(t, func(_ context.Context, spec Spec) error {
		calls++
		session, _ := envValue(spec.Env, SessionEnv)
		require.NoError(t, os.WriteFile(session+".reboot", nil, 0o644))
		cancel()
		return nil
	})

	err := l.Run(ctx, wp, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestEnvironmentOverlaysDotEnv(t *testing.T) {
	wp := paths.ForWorkspace(t.TempDir())
	t.Setenv("COMFY_TEST_SHARED", "outer")
	require.NoError(t, os.WriteFile(wp.EnvFile, []byte("COMFY_TEST_SHARED=inner\nHF_HOME=\"/data/hf\"\n"), 0o644))

	env, err := Environment(wp)
	require.NoError(t, err)

	v, ok := envValue(env, "COMFY_TEST_SHARED")
	require.True(t, ok)
	require.Equal(t, "inner", v)
	v, ok = envValue(env, "HF_HOME")
	require.True(t, ok)
	require.Equal(t, "/data/hf", v)
}

func TestEnvironmentWithoutDotEnv(t *testing.T) {
	env, err := Environment(paths.ForWorkspace(t.TempDir()))
	require.NoError(t, err)
	require.Len(t, env, len(os.Environ()))
}

func TestSplitExtras(t *testing.T) {
	args, err := SplitExtras(`--port 8190 --output-directory "/data/my outputs"`)
	require.NoError(t, err)
	require.Equal(t, []string{"--port", "8190", "--output-directory", "/data/my outputs"}, args)

	args, err = SplitExtras("   ")
	require.NoError(t, err)
	require.Nil(t, args)

	_, err = SplitExtras(`--listen "unterminated`)
	require.Error(t, err)
}

func TestListenAddress(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		host  string
		port  int
		isErr bool
	}{
		{name: "defaults", args: nil, host: DefaultHost, port: DefaultPort},
		{name: "separate values", args: []string{"--listen", "0.0.0.0", "--port", "9000"}, host: "0.0.0.0", port: 9000},
		{name: "equals form", args: []string{"--port=8190", "--listen=10.0.0.5"}, host: "10.0.0.5", port: 8190},
		{name: "bare listen", args: []string{"--listen", "--port", "8100"}, host: "0.0.0.0", port: 8100},
		{name: "address list", args: []string{"--listen", "192.168.1.2,::"}, host: "192.168.1.2", port: DefaultPort},
		{name: "bad port", args: []string{"--port", "http"}, isErr: true},
		{name: "missing port", args: []string{"--port"}, isErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, err := ListenAddress(tc.args)
			if tc.isErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.host, host)
			require.Equal(t, tc.port, port)
		})
	}
}

func TestPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.True(t, PortInUse("0.0.0.0", port))

	require.NoError(t, ln.Close())
	require.False(t, PortInUse("127.0.0.1", port))
}

func TestWaitReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, waitReady(ctx, srv.URL+"/history", make(chan struct{}), 10*time.Millisecond))
	require.Equal(t, int32(3), hits.Load())
}

func TestWaitReadyProcessExited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exited := make(chan struct{})
	close(exited)
	err := waitReady(context.Background(), srv.URL+"/history", exited, 10*time.Millisecond)
	require.ErrorContains(t, err, "exited")
}

func TestWaitReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := waitReady(ctx, srv.URL+"/history", make(chan struct{}), 10*time.Millisecond)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStartRefusesBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := testLauncher(t, nil)
	_, err = l.Start(context.Background(), paths.ForWorkspace(t.TempDir()), BackgroundOptions{
		Executable: "/nonexistent/comfy",
		Extras:     []string{"--port", strconv.Itoa(port)},
	})
	var busy *PortInUseError
	require.ErrorAs(t, err, &busy)
	require.Equal(t, port, busy.Port)
}

func TestRunning(t *testing.T) {
	require.True(t, Running(config.Background{PID: os.Getpid()}))
	require.False(t, Running(config.Background{PID: 0}))
}

func TestTailKeepsLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bg.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644))
	require.Equal(t, []string{"c", "d"}, tail(path, 2))
	require.Nil(t, tail(filepath.Join(t.TempDir(), "missing"), 2))
}
