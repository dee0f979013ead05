package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/withkeystone/preview-deployer/internal/errors"
)

func newTestKeystone(t *testing.T, handler http.Handler) (*KeystoneService, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewKeystoneService("test-key", server.URL)
	require.NoError(t, err)
	return svc, server
}

func TestNewKeystoneService(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		baseURL string
		wantErr error
	}{
		{
			name:   "valid key with default URL",
			apiKey: "key-123",
		},
		{
			name:    "valid key with custom URL",
			apiKey:  "key-123",
			baseURL: "https://keystone.internal/",
		},
		{
			name:    "missing key",
			wantErr: apperrors.ErrAPIKeyRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewKeystoneService(tt.apiKey, tt.baseURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, svc.baseURL)
			// Trailing slashes are trimmed so path joins stay clean
			assert.NotEqual(t, "/", svc.baseURL[len(svc.baseURL)-1:])
		})
	}
}

func TestDebugEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "1", want: true},
		{value: "true", want: true},
		{value: "TRUE", want: true},
		{value: "yes", want: true},
		{value: "", want: false},
		{value: "0", want: false},
		{value: "false", want: false},
		{value: "no", want: false},
	}

	for _, tt := range tests {
		t.Run("KEYSTONE_DEBUG="+tt.value, func(t *testing.T) {
			t.Setenv("KEYSTONE_DEBUG", tt.value)
			svc, err := NewKeystoneService("key", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.debug)
		})
	}
}

func TestTriggerSuiteRun(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotPayload map[string]string

	svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)

		_ = json.NewEncoder(w).Encode(TriggerResult{
			SuiteRunID: "sr_abc",
			PollURL:    "/api/v1/suites/ci/sr_abc/status",
			RunURL:     "https://app.withkeystone.com/runs/sr_abc",
		})
	}))

	result, err := svc.TriggerSuiteRun(context.Background(), TriggerInput{
		SuiteID: "st_123",
		BaseURL: "https://example.trycloudflare.com",
		CIRunID: "run-1",
		Branch:  "main",
		Commit:  "abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/suites/st_123/ci/trigger", gotPath)
	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "sr_abc", result.SuiteRunID)
	assert.Equal(t, map[string]string{
		"base_url":  "https://example.trycloudflare.com",
		"ci_run_id": "run-1",
		"branch":    "main",
		"commit":    "abc123",
	}, gotPayload)
}

func TestTriggerSuiteRun_OmitsEmptyFields(t *testing.T) {
	var gotPayload map[string]string

	svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(TriggerResult{SuiteRunID: "sr_abc"})
	}))

	_, err := svc.TriggerSuiteRun(context.Background(), TriggerInput{
		SuiteID: "st_123",
		BaseURL: "https://example.trycloudflare.com",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"base_url": "https://example.trycloudflare.com"}, gotPayload)
}

func TestTriggerSuiteRun_Errors(t *testing.T) {
	t.Run("empty base URL", func(t *testing.T) {
		svc, err := NewKeystoneService("key", "")
		require.NoError(t, err)

		_, err = svc.TriggerSuiteRun(context.Background(), TriggerInput{SuiteID: "st_123"})
		assert.ErrorIs(t, err, apperrors.ErrEmptyBaseURL)
	})

	t.Run("API error status", func(t *testing.T) {
		svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "suite not found", http.StatusNotFound)
		}))

		_, err := svc.TriggerSuiteRun(context.Background(), TriggerInput{
			SuiteID: "missing",
			BaseURL: "https://example.trycloudflare.com",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("missing suite_run_id", func(t *testing.T) {
		svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))

		_, err := svc.TriggerSuiteRun(context.Background(), TriggerInput{
			SuiteID: "st_123",
			BaseURL: "https://example.trycloudflare.com",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "suite_run_id")
	})
}

func TestGetSuiteRunStatus(t *testing.T) {
	svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/suites/ci/sr_abc/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(SuiteRunStatus{
			Status:      "running",
			TotalTests:  10,
			PassedTests: 4,
		})
	}))

	status, err := svc.GetSuiteRunStatus(context.Background(), "sr_abc")
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 10, status.TotalTests)
	assert.False(t, status.IsTerminal())
}

func TestSuiteRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: "completed", want: true},
		{status: "failed", want: true},
		{status: "aborted", want: true},
		{status: "running", want: false},
		{status: "pending", want: false},
		{status: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s := &SuiteRunStatus{Status: tt.status}
			if s.IsTerminal() != tt.want {
				t.Errorf("IsTerminal() = %v, want %v for %q", s.IsTerminal(), tt.want, tt.status)
			}
		})
	}
}

func TestWaitForCompletion(t *testing.T) {
	var calls atomic.Int32

	svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := SuiteRunStatus{Status: "running", TotalTests: 3}
		if calls.Add(1) >= 3 {
			status = SuiteRunStatus{Status: "completed", TotalTests: 3, PassedTests: 3}
		}
		_ = json.NewEncoder(w).Encode(status)
	}))

	status, err := svc.WaitForCompletion(context.Background(), "sr_abc", 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	svc, _ := newTestKeystone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(SuiteRunStatus{Status: "running"})
	}))

	_, err := svc.WaitForCompletion(context.Background(), "sr_abc", 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, apperrors.ErrSuiteRunTimeout)
}
