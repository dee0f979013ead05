package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	apperrors "github.com/withkeystone/preview-deployer/internal/errors"
)

func TestHealthChecker_Wait(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	checker := NewHealthChecker()
	err := checker.Wait(context.Background(), server.URL+"/healthz", time.Second, 5*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestHealthChecker_Wait_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	checker := NewHealthChecker()
	err := checker.Wait(context.Background(), server.URL+"/healthz", 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, apperrors.ErrHealthCheckTimeout)
}

func TestHealthChecker_Wait_ConnectionRefused(t *testing.T) {
	// Nothing listens here; the checker should keep retrying until timeout
	checker := NewHealthChecker()
	err := checker.Wait(context.Background(), "http://127.0.0.1:1/healthz", 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, apperrors.ErrHealthCheckTimeout)
}

func TestHealthChecker_Wait_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := NewHealthChecker()
	err := checker.Wait(ctx, server.URL+"/healthz", time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}
