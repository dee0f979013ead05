package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/withkeystone/preview-deployer/internal/errors"
)

// HealthChecker polls an HTTP endpoint until it reports ready
type HealthChecker struct {
	client *http.Client
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Wait polls url at the given interval until it returns a 2xx response or the
// timeout elapses. A timeout returns ErrHealthCheckTimeout so the caller can
// abort the job with a non-zero exit.
func (h *HealthChecker) Wait(ctx context.Context, url string, timeout, interval time.Duration) error {
	logger := zerolog.Ctx(ctx)

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		attempt++

		ok, status := h.probe(ctx, url)
		if ok {
			logger.Info().Str("url", url).Int("attempt", attempt).Msg("Health check passed")
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s (last status %d)", errors.ErrHealthCheckTimeout, url, timeout, status)
		}

		logger.Debug().Str("url", url).Int("attempt", attempt).Int("status", status).Msg("Health check not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// probe performs a single health request. Returns the HTTP status, or 0 when
// the request itself failed (stack still starting, connection refused).
func (h *HealthChecker) probe(ctx context.Context, url string) (bool, int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode
}
