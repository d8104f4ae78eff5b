package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// partSuffix names the in-progress file next to its destination.
const partSuffix = ".part"

// transfer fetches art into dest, retrying per the manager's policy, and
// returns the final size.
func (m *Manager) transfer(ctx context.Context, art mous.ArtifactInfo, kind mous.Kind, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, &TransferError{Filename: art.Filename, URL: art.URL, Attempts: 1, Err: err}
	}
	for attempt := 1; ; attempt++ {
		size, err := m.attempt(ctx, art, dest)
		if err == nil {
			return size, nil
		}
		if !m.retry.ShouldRetry(err, attempt) {
			return 0, &TransferError{
				Filename:   art.Filename,
				URL:        art.URL,
				StatusCode: statusCodeOf(err),
				Attempts:   attempt,
				Err:        err,
			}
		}
		wait := m.retry.Backoff(attempt)
		metrics.ObserveTransferRetry(string(kind))
		m.logger.Warn("transfer attempt failed; retrying",
			zap.String("filename", art.Filename),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return 0, &TransferError{Filename: art.Filename, URL: art.URL, Attempts: attempt, Err: err}
		}
	}
}

// attempt performs one GET, resuming from an existing part file when present.
func (m *Manager) attempt(ctx context.Context, art mous.ArtifactInfo, dest string) (int64, error) {
	part := dest + partSuffix
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, art.URL, nil)
	if err != nil {
		return 0, permanent(fmt.Errorf("build request: %w", err))
	}
	if m.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", m.cfg.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err); !retry {
			return 0, permanent(err)
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		// The server ignored the range; start over.
		flags |= os.O_TRUNC
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		_ = os.Remove(part)
		return 0, &statusError{code: resp.StatusCode, status: resp.Status}
	default:
		err := &statusError{code: resp.StatusCode, status: resp.Status}
		if retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, nil); !retry {
			return 0, permanent(err)
		}
		return 0, err
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return 0, permanent(fmt.Errorf("open %s: %w", part, err))
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("read body: %w", copyErr)
	}
	if closeErr != nil {
		return 0, permanent(fmt.Errorf("close %s: %w", part, closeErr))
	}

	info, err := os.Stat(part)
	if err != nil {
		return 0, permanent(err)
	}
	if art.SizeBytes != nil && info.Size() != *art.SizeBytes {
		return 0, fmt.Errorf("size mismatch for %s: expected %d, got %d", art.Filename, *art.SizeBytes, info.Size())
	}
	if err := os.Rename(part, dest); err != nil {
		return 0, permanent(fmt.Errorf("rename %s: %w", part, err))
	}
	return info.Size(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
