package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/withkeystone/preview-deployer/internal/errors"
)

const defaultKeystoneAPIURL = "https://api.withkeystone.com"

// KeystoneService is the client for the Keystone test-execution API.
// Authentication is a per-request X-API-Key header.
type KeystoneService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	debug      bool
}

// TriggerInput describes a suite run to start. CIRunID, Branch, and Commit
// are optional and omitted from the request when empty.
type TriggerInput struct {
	SuiteID string
	BaseURL string
	CIRunID string
	Branch  string
	Commit  string
}

// TriggerResult is the response to a trigger request
type TriggerResult struct {
	SuiteRunID string `json:"suite_run_id"`
	PollURL    string `json:"poll_url"`
	RunURL     string `json:"run_url"`
}

// TestResult is a single test outcome inside a suite run
type TestResult struct {
	TestName   string `json:"test_name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// SuiteRunStatus is the current state of a suite run
type SuiteRunStatus struct {
	Status      string       `json:"status"`
	TotalTests  int          `json:"total_tests"`
	PassedTests int          `json:"passed_tests"`
	FailedTests int          `json:"failed_tests"`
	RunURL      string       `json:"run_url,omitempty"`
	Tests       []TestResult `json:"tests,omitempty"`
}

// IsTerminal reports whether the suite run has finished
func (s *SuiteRunStatus) IsTerminal() bool {
	switch s.Status {
	case "completed", "failed", "aborted":
		return true
	}
	return false
}

// NewKeystoneService creates a Keystone API client.
// An empty baseURL falls back to the production endpoint.
func NewKeystoneService(apiKey, baseURL string) (*KeystoneService, error) {
	if apiKey == "" {
		return nil, errors.ErrAPIKeyRequired
	}
	if baseURL == "" {
		baseURL = defaultKeystoneAPIURL
	}

	return &KeystoneService{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		debug:      debugEnabled(os.Getenv("KEYSTONE_DEBUG")),
	}, nil
}

// debugEnabled treats only affirmative values as on, so KEYSTONE_DEBUG=false
// behaves as expected
func debugEnabled(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// TriggerSuiteRun starts a suite run against input.BaseURL
func (s *KeystoneService) TriggerSuiteRun(ctx context.Context, input TriggerInput) (*TriggerResult, error) {
	if input.BaseURL == "" {
		return nil, errors.ErrEmptyBaseURL
	}

	url := fmt.Sprintf("%s/api/v1/suites/%s/ci/trigger", s.baseURL, input.SuiteID)

	// nil fields are omitted from the payload
	payload := map[string]string{"base_url": input.BaseURL}
	if input.CIRunID != "" {
		payload["ci_run_id"] = input.CIRunID
	}
	if input.Branch != "" {
		payload["branch"] = input.Branch
	}
	if input.Commit != "" {
		payload["commit"] = input.Commit
	}

	var result TriggerResult
	if err := s.post(ctx, url, payload, &result); err != nil {
		return nil, fmt.Errorf("failed to trigger suite run: %w", err)
	}

	if result.SuiteRunID == "" {
		return nil, fmt.Errorf("trigger response missing suite_run_id")
	}

	return &result, nil
}

// GetSuiteRunStatus fetches the current status of a suite run
func (s *KeystoneService) GetSuiteRunStatus(ctx context.Context, suiteRunID string) (*SuiteRunStatus, error) {
	url := fmt.Sprintf("%s/api/v1/suites/ci/%s/status", s.baseURL, suiteRunID)

	var status SuiteRunStatus
	if err := s.get(ctx, url, &status); err != nil {
		return nil, fmt.Errorf("failed to get suite run status: %w", err)
	}

	return &status, nil
}

// WaitForCompletion polls the suite run until it reaches a terminal status
// (completed, failed, or aborted) or the timeout elapses
func (s *KeystoneService) WaitForCompletion(ctx context.Context, suiteRunID string, timeout, pollInterval time.Duration) (*SuiteRunStatus, error) {
	logger := zerolog.Ctx(ctx)
	deadline := time.Now().Add(timeout)

	for {
		status, err := s.GetSuiteRunStatus(ctx, suiteRunID)
		if err != nil {
			return nil, err
		}

		logger.Info().
			Str("status", status.Status).
			Int("total", status.TotalTests).
			Int("passed", status.PassedTests).
			Int("failed", status.FailedTests).
			Msg("Suite run status")

		if status.IsTerminal() {
			return status, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: suite run %s after %s", errors.ErrSuiteRunTimeout, suiteRunID, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *KeystoneService) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.send(req, out)
}

func (s *KeystoneService) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return s.send(req, out)
}

func (s *KeystoneService) send(req *http.Request, out interface{}) error {
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if s.debug {
		zerolog.Ctx(req.Context()).Debug().
			Int("status", resp.StatusCode).
			Str("url", req.URL.String()).
			Str("body", string(respBody)).
			Msg("Keystone API response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
