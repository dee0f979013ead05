package errors

import "errors"

var (
	ErrAPIKeyRequired       = errors.New("KEYSTONE_API_KEY environment variable is required")
	ErrHealthCheckTimeout   = errors.New("health check did not succeed before the deadline")
	ErrTunnelURLNotFound    = errors.New("tunnel URL did not appear in cloudflared output")
	ErrSuiteRunTimeout      = errors.New("suite run did not complete before the deadline")
	ErrComposeFileNotFound  = errors.New("compose file not found")
	ErrPolicyViolation      = errors.New("compose file violates preview policy")
	ErrMissingPullRequest   = errors.New("pull request number is required")
	ErrEmptyBaseURL         = errors.New("base URL must not be empty")
)
