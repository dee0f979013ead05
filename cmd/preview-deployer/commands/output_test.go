package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withkeystone/preview-deployer/internal/services"
)

func sampleStatus() *services.SuiteRunStatus {
	return &services.SuiteRunStatus{
		Status:      "completed",
		TotalTests:  3,
		PassedTests: 2,
		FailedTests: 1,
		RunURL:      "https://app.withkeystone.com/runs/sr_001",
		Tests: []services.TestResult{
			{TestName: "login flow", Status: "completed", DurationMS: 1200},
			{TestName: "checkout", Status: "completed", DurationMS: 3400},
			{TestName: "search", Status: "failed", DurationMS: 900},
		},
	}
}

func TestFormatSuiteResult_Text(t *testing.T) {
	var buf bytes.Buffer
	err := FormatSuiteResult(&buf, sampleStatus(), "text", "sr_001")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Suite Run Status: completed")
	assert.Contains(t, out, "Total Tests: 3")
	assert.Contains(t, out, "Passed: 2")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "View results: https://app.withkeystone.com/runs/sr_001")
	assert.Contains(t, out, "[PASS] login flow: completed (1200ms)")
	assert.Contains(t, out, "[FAIL] search: failed (900ms)")
}

func TestFormatSuiteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := FormatSuiteResult(&buf, sampleStatus(), "json", "sr_001")
	require.NoError(t, err)

	var decoded services.SuiteRunStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded.Status)
	assert.Equal(t, 1, decoded.FailedTests)
	assert.Len(t, decoded.Tests, 3)
}

func TestFormatSuiteResult_GitHub(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")

	var buf bytes.Buffer
	err := FormatSuiteResult(&buf, sampleStatus(), "github", "sr_001")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "suite_run_id=sr_001")
	assert.Contains(t, out, "status=completed")
	assert.Contains(t, out, "passed_tests=2")
	assert.Contains(t, out, "failed_tests=1")
	assert.Contains(t, out, "total_tests=3")
	assert.Contains(t, out, "run_url=https://app.withkeystone.com/runs/sr_001")
	assert.Contains(t, out, "Tests failed: 1 out of 3")
}

func TestFormatSuiteResult_GitHubOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "github_output")
	t.Setenv("GITHUB_OUTPUT", path)

	var buf bytes.Buffer
	status := sampleStatus()
	status.PassedTests = 3
	status.FailedTests = 0
	err := FormatSuiteResult(&buf, status, "github", "sr_001")
	require.NoError(t, err)

	// Variables land in the file, the summary on the writer
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "suite_run_id=sr_001")
	assert.Contains(t, string(data), "failed_tests=0")

	assert.NotContains(t, buf.String(), "suite_run_id=")
	assert.Contains(t, buf.String(), "All 3 tests passed")
}

func TestFormatSuiteResult_GitHubOmitsEmptySuiteRunID(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")

	var buf bytes.Buffer
	err := FormatSuiteResult(&buf, sampleStatus(), "github", "")
	require.NoError(t, err)

	assert.NotContains(t, buf.String(), "suite_run_id=")
}
