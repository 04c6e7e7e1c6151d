// Package fetch implements the artifact fetcher: HTTPS-only download with
// streaming to a temp file then atomic rename, progress callbacks, mirror
// fallback, a per-host circuit breaker, and optional checksum verification.
// The HTTP client is github.com/hashicorp/go-retryablehttp, retry delay
// scheduling is github.com/cenkalti/backoff/v5, and
// github.com/schollz/progressbar/v3 drives the progress callback contract.
package fetch

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"

	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

const (
	circuitThreshold = 5
	circuitWindow    = 60 * time.Second
	maxAttempts      = 3
	baseDelay        = 1 * time.Second
)

// ChecksumAlgorithm names a supported digest algorithm.
type ChecksumAlgorithm string

const (
	SHA256 ChecksumAlgorithm = "sha256"
	SHA512 ChecksumAlgorithm = "sha512"
)

// Checksum is an expected digest to verify a downloaded file against.
type Checksum struct {
	Algorithm ChecksumAlgorithm
	Value     string
}

// ProgressFunc reports (downloaded, total) bytes; total is -1 when unknown.
type ProgressFunc func(downloaded, total int64)

// Options configures a single Fetch/FetchWithMirrors call.
type Options struct {
	Checksum     *Checksum
	Progress     ProgressFunc
	Headers      map[string]string
	ShowProgress bool // render a progressbar.ProgressBar to stderr
	Log          logr.Logger
}

// Fetcher owns the shared circuit-breaker state and HTTP client used across
// calls, process-wide, so construct one and reuse it.
type Fetcher struct {
	client *retryablehttp.Client
	cb     *circuitBreaker
	log    logr.Logger

	// Replacer, when set, rewrites every URL this Fetcher dials through the
	// user's global url_replacements map before it ever reaches the network.
	Replacer *Replacer
}

// New builds a Fetcher with its own retryable HTTP client and circuit
// breaker table.
func New(log logr.Logger) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 0 // outer loop in Fetch owns the retry/backoff schedule
	client.Logger = nil
	return &Fetcher{
		client: client,
		cb:     newCircuitBreaker(circuitThreshold, circuitWindow),
		log:    wlog.OrDiscard(log),
	}
}

// resolveURL applies f.Replacer, if set, before any network call.
func (f *Fetcher) resolveURL(rawURL string) string {
	if f.Replacer == nil {
		return rawURL
	}
	return f.Replacer.Apply(rawURL)
}

func validateScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// Get performs a retried GET and returns the response body in memory, used
// by release sources (pkg/source) to pull small JSON/text catalog documents
// rather than streaming to a file.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	rawURL = f.resolveURL(rawURL)
	if err := validateScheme(rawURL); err != nil {
		return nil, wrknverrors.BadURL("get", rawURL)
	}
	if !f.cb.allow(rawURL) {
		return nil, wrknverrors.CircuitOpen("get", rawURL)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := f.getOnce(ctx, rawURL, headers)
		if err == nil {
			f.cb.recordSuccess(rawURL)
			return body, nil
		}
		lastErr = err
		f.cb.recordFailure(rawURL)
		if attempt == maxAttempts {
			break
		}
		delay, berr := bo.NextBackOff()
		if berr != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, wrknverrors.Network("get", rawURL, lastErr)
}

func (f *Fetcher) getOnce(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// Fetch downloads url to destination, streaming through a temp file in
// destination's parent directory and renaming atomically on success. On any
// failure, no partial file is left at destination.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destination string, opts Options) error {
	rawURL = f.resolveURL(rawURL)
	if err := validateScheme(rawURL); err != nil {
		return wrknverrors.BadURL("fetch", rawURL)
	}

	if !f.cb.allow(rawURL) {
		return wrknverrors.CircuitOpen("fetch", rawURL)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := f.attempt(ctx, rawURL, destination, opts)
		if err == nil {
			f.cb.recordSuccess(rawURL)
			if opts.Checksum != nil {
				if verr := verifyFile(destination, *opts.Checksum); verr != nil {
					os.Remove(destination)
					return wrknverrors.Integrity("fetch", rawURL, verr.Error())
				}
			}
			return nil
		}
		lastErr = err
		f.cb.recordFailure(rawURL)
		f.log.V(1).Info("fetch attempt failed", "url", rawURL, "attempt", attempt, "err", err)
		if attempt == maxAttempts {
			break
		}
		delay, berr := bo.NextBackOff()
		if berr != nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return wrknverrors.Network("fetch", rawURL, lastErr)
}

// FetchWithMirrors tries urls in order, logging each mirror failure at debug
// and attempting the next; it fails only when every mirror fails.
func (f *Fetcher) FetchWithMirrors(ctx context.Context, urls []string, destination string, opts Options) error {
	if len(urls) == 0 {
		return wrknverrors.BadURL("fetch_with_mirrors", "")
	}
	var lastErr error
	for _, u := range urls {
		err := f.Fetch(ctx, u, destination, opts)
		if err == nil {
			return nil
		}
		f.log.V(1).Info("mirror failed, trying next", "url", u, "err", err)
		lastErr = err
	}
	return lastErr
}

// attempt performs one end-to-end download: stream the response into a temp
// file under destination's directory, then rename atomically.
func (f *Fetcher) attempt(ctx context.Context, rawURL, destination string, opts Options) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	destDir := filepath.Dir(destination)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(destDir, ".wrknv-fetch-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	total := resp.ContentLength
	var bar io.Writer = io.Discard
	if opts.ShowProgress {
		bar = progressbar.DefaultBytes(total, "downloading "+filepath.Base(destination))
	}

	writer := io.MultiWriter(tmp, bar)
	counter := &countingWriter{progress: opts.Progress, total: total}
	writer = io.MultiWriter(writer, counter)

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, destination)
}

type countingWriter struct {
	progress ProgressFunc
	total    int64
	written  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.written += int64(len(p))
	if c.progress != nil {
		c.progress(c.written, c.total)
	}
	return len(p), nil
}

func verifyFile(path string, expected Checksum) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var sum string
	switch strings.ToLower(string(expected.Algorithm)) {
	case string(SHA512):
		h := sha512.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	default:
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	}

	if !strings.EqualFold(sum, expected.Value) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected.Value, sum)
	}
	return nil
}

// VerifyFile exposes the checksum comparison for callers (e.g. the tool
// manager) that fetch and verify as two separate steps.
func VerifyFile(path string, expected Checksum) error {
	return verifyFile(path, expected)
}

// ParseChecksumFile parses a "checksum  filename" or "checksum *filename"
// line-oriented checksums listing and returns the digest for filename.
func ParseChecksumFile(content, filename string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimPrefix(fields[1], "*")
		if name == filename || strings.HasSuffix(name, "/"+filename) {
			return fields[0], true
		}
	}
	return "", false
}
