// Package download fetches model files over HTTP, hashing them while they
// stream to disk.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/zeebo/blake3"
)

const userAgent = "comfy-cli/1.0"

// ErrDestinationExists is returned when the target file is already present.
var ErrDestinationExists = errors.New("destination already exists")

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not announce a length.
type ProgressFunc func(written, total int64)

// Request describes one download.
type Request struct {
	URL      string
	Dest     string
	Headers  map[string]string
	Progress ProgressFunc
}

// Result describes a completed download.
type Result struct {
	Path   string
	Size   int64
	SHA256 string
	BLAKE3 string
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %s", e.URL, e.Status)
}

// Unauthorized reports whether the server refused the credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client performs downloads.
type Client struct {
	HTTP   *http.Client
	Logger hclog.Logger
	// CivitaiAPI is the base URL of the CivitAI REST API.
	CivitaiAPI string
}

// NewClient returns a client using http.DefaultClient.
func NewClient(logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		HTTP:       http.DefaultClient,
		Logger:     logger.Named("download"),
		CivitaiAPI: defaultCivitaiAPI,
	}
}

func (c *Client) get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// Fetch downloads req.URL to req.Dest. The file only appears at Dest once the
// body has been fully written; partial downloads are removed.
func (c *Client) Fetch(ctx context.Context, req Request) (Result, error) {
	if _, err := os.Stat(req.Dest); err == nil {
		return Result{}, fmt.Errorf("%s: %w", req.Dest, ErrDestinationExists)
	}
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return Result{}, fmt.Errorf("prepare download destination: %w", err)
	}

	c.Logger.Debug("starting download", "url", req.URL, "dest", req.Dest)
	resp, err := c.get(ctx, req.URL, req.Headers)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(req.Dest), ".download-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	sha := sha256.New()
	b3 := blake3.New()
	var sink io.Writer = io.MultiWriter(tmpFile, sha, b3)
	if req.Progress != nil {
		sink = &progressWriter{w: sink, total: resp.ContentLength, fn: req.Progress}
	}

	size, err := io.Copy(sink, resp.Body)
	if err != nil {
		tmpFile.Close()
		return Result{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}
	if resp.ContentLength >= 0 && size != resp.ContentLength {
		return Result{}, fmt.Errorf("download %s: truncated body (%d of %d bytes)", req.URL, size, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, req.Dest); err != nil {
		return Result{}, fmt.Errorf("finalize download: %w", err)
	}
	c.Logger.Debug("download complete", "dest", req.Dest, "bytes", size)

	return Result{
		Path:   req.Dest,
		Size:   size,
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		BLAKE3: hex.EncodeToString(b3.Sum(nil)),
	}, nil
}

// HashFile computes the sha256 and blake3 digests of an existing file.
func HashFile(path string) (sha256Hex, blake3Hex string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	sha := sha256.New()
	b3 := blake3.New()
	if _, err := io.Copy(io.MultiWriter(sha, b3), file); err != nil {
		return "", "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(sha.Sum(nil)), hex.EncodeToString(b3.Sum(nil)), nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}
