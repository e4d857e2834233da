// Package artifact downloads binary attachments referenced by records into
// a deterministic directory layout, skipping files that already exist.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxAttempts   = 3
	maxTitleLen   = 100
	sniffLen      = 512
	defaultExt    = ".pdf"
	unknownYear   = "unknown_year"
	unknownRegion = "unknown_region"
)

var (
	nonWord    = regexp.MustCompile(`[^\w\s-]`)
	whitespace = regexp.MustCompile(`[-\s]+`)
)

// Config controls the downloader.
type Config struct {
	// BaseDir is the artifact directory root.
	BaseDir string
	// Timeout bounds each download request.
	Timeout time.Duration
}

// Downloader fetches artifacts for one worker. Each worker owns its own
// Downloader and HTTP client; instances are not shared across goroutines.
type Downloader struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Downloader with a dedicated HTTP client.
func New(cfg Config, logger *zap.Logger) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// DestPath computes the deterministic destination for an artifact:
// <base>/<year>/<region>/<title>.pdf with all segments sanitized.
func (d *Downloader) DestPath(year int, region, title string) string {
	yearDir := unknownYear
	if year > 0 {
		yearDir = fmt.Sprintf("%d", year)
	}
	regionDir := sanitize(region)
	if regionDir == "" {
		regionDir = unknownRegion
	}
	name := sanitize(truncate(title, maxTitleLen))
	if name == "" {
		name = "untitled"
	}
	return filepath.Join(d.cfg.BaseDir, yearDir, regionDir, name+defaultExt)
}

// Fetch downloads the artifact at url to its deterministic path and returns
// that path. If the destination already exists the network is not touched.
// Transient failures are retried up to 3 attempts with 2^attempt seconds of
// backoff; a non-binary response body is rejected without retry. The empty
// string (with the error) means the owning record should be persisted with
// no artifact path.
func (d *Downloader) Fetch(ctx context.Context, url string, year int, region, title string) (string, error) {
	if url == "" {
		return "", nil
	}

	dest := d.DestPath(year, region, title)
	if _, err := os.Stat(dest); err == nil {
		d.logger.Debug("artifact already present", zap.String("path", dest))
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return "", err
			}
		}
		err := d.download(ctx, url, dest)
		if err == nil {
			d.logger.Info("artifact downloaded",
				zap.String("url", url), zap.String("path", dest))
			return dest, nil
		}
		lastErr = err
		var permErr *notBinaryError
		if errors.As(err, &permErr) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("download %s: %w", url, lastErr)
}

func (d *Downloader) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Some servers return an HTML error page with a 200 on a URL that looks
	// binary; sniff the first bytes and reject those outright.
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("read artifact body: %w", err)
	}
	head = head[:n]
	if looksLikeHTML(head, resp.Header.Get("Content-Type")) {
		return &notBinaryError{url: url}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(head); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("place artifact: %w", err)
	}
	return nil
}

// notBinaryError marks a response rejected by content sniffing; it is never
// retried.
type notBinaryError struct {
	url string
}

func (e *notBinaryError) Error() string {
	return fmt.Sprintf("non-binary response for %s", e.url)
}

func looksLikeHTML(head []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "text/plain") {
		return true
	}
	sniffed := http.DetectContentType(head)
	return strings.HasPrefix(sniffed, "text/html")
}

func sanitize(s string) string {
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
