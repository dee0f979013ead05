package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/withkeystone/preview-deployer/internal/services"
)

// FormatSuiteResult renders a finished suite run in the requested format:
// text (human summary), json (raw), or github (workflow output variables
// plus a summary).
func FormatSuiteResult(w io.Writer, status *services.SuiteRunStatus, format, suiteRunID string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)

	case "github":
		return formatGitHub(w, status, suiteRunID)

	default:
		formatText(w, status)
		return nil
	}
}

func formatText(w io.Writer, status *services.SuiteRunStatus) {
	fmt.Fprintf(w, "\nSuite Run Status: %s\n", status.Status)
	fmt.Fprintf(w, "Total Tests: %d\n", status.TotalTests)
	fmt.Fprintf(w, "Passed: %d\n", status.PassedTests)
	fmt.Fprintf(w, "Failed: %d\n", status.FailedTests)

	if status.RunURL != "" {
		fmt.Fprintf(w, "\nView results: %s\n", status.RunURL)
	}

	if len(status.Tests) > 0 {
		fmt.Fprintln(w, "\nTest Results:")
		fmt.Fprintln(w, "------------------------------------------------------------")
		for _, test := range status.Tests {
			icon := "PASS"
			if test.Status != "completed" {
				icon = "FAIL"
			}
			fmt.Fprintf(w, "[%s] %s: %s (%dms)\n", icon, test.TestName, test.Status, test.DurationMS)
		}
	}
}

// formatGitHub emits workflow output variables. When GITHUB_OUTPUT is set the
// variables go to that file; otherwise they are printed as key=value lines.
func formatGitHub(w io.Writer, status *services.SuiteRunStatus, suiteRunID string) error {
	out := w
	if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
		}
		defer f.Close()
		out = f
	}

	if suiteRunID != "" {
		fmt.Fprintf(out, "suite_run_id=%s\n", suiteRunID)
	}
	fmt.Fprintf(out, "status=%s\n", status.Status)
	fmt.Fprintf(out, "passed_tests=%d\n", status.PassedTests)
	fmt.Fprintf(out, "failed_tests=%d\n", status.FailedTests)
	fmt.Fprintf(out, "total_tests=%d\n", status.TotalTests)
	fmt.Fprintf(out, "run_url=%s\n", status.RunURL)

	if status.FailedTests > 0 {
		fmt.Fprintf(w, "\nTests failed: %d out of %d\n", status.FailedTests, status.TotalTests)
	} else {
		fmt.Fprintf(w, "\nAll %d tests passed\n", status.TotalTests)
	}

	return nil
}
