package icloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DownloadRange opens a byte stream for a rendition's signed URL
// starting at the given offset. The caller owns the response body and
// must close it. Transient network failures and gateway errors retry
// before the first byte; once the stream is open, read errors are the
// caller's to handle.
func (c *Client) DownloadRange(ctx context.Context, rawURL string, start int64) (*http.Response, error) {
	var attempt int

	for {
		resp, err := c.downloadOnce(ctx, rawURL, start)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("icloud: download canceled: %w", ctx.Err())
		}

		var svcErr *ServiceError
		if errors.As(err, &svcErr) && !isRetryable(svcErr.StatusCode) {
			return nil, err
		}

		if attempt >= maxRetries {
			return nil, fmt.Errorf("icloud: download failed after %d retries: %w", maxRetries, err)
		}

		backoff := calcBackoff(attempt)
		c.logger.Warn("retrying download",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("icloud: download canceled: %w", sleepErr)
		}

		attempt++
	}
}

// downloadOnce issues a single ranged GET. Non-2xx statuses classify
// into the error taxonomy; the body is drained so the connection can
// be reused.
func (c *Client) downloadOnce(ctx context.Context, rawURL string, start int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating download request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("icloud: download request: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		sentinel := classifyStatus(resp.StatusCode)
		if sentinel == nil {
			sentinel = ErrBadRequest
		}

		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Err:        sentinel,
		}
	}

	return resp, nil
}
