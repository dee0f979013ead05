package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/withkeystone/preview-deployer/internal/errors"
	"github.com/withkeystone/preview-deployer/internal/utils"
	"gopkg.in/yaml.v3"
)

// CommandRunner executes an external command and returns its combined output.
// Extracted so services that shell out can be tested without the binaries installed.
type CommandRunner func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)

func execRunner(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	return cmd.CombinedOutput()
}

// ComposeService drives the preview stack through the docker compose CLI.
// Container orchestration itself stays with compose; this wrapper only owns
// the fixed project name, file, and scale overrides.
type ComposeService struct {
	file    string
	project string
	runner  CommandRunner
}

// NewComposeService creates a compose wrapper bound to a compose file and project name
func NewComposeService(file, project string) *ComposeService {
	return &ComposeService{
		file:    file,
		project: project,
		runner:  execRunner,
	}
}

// composeArgs builds the argument list for a docker compose subcommand
func (s *ComposeService) composeArgs(args ...string) []string {
	base := []string{"compose", "-f", s.file, "-p", s.project}
	return append(base, args...)
}

// Build builds the given services, or all services when none are specified
func (s *ComposeService) Build(ctx context.Context, services ...string) error {
	args := s.composeArgs("build")
	args = append(args, services...)

	out, err := s.runner(ctx, "docker", args, nil)
	if err != nil {
		return fmt.Errorf("compose build failed: %w: %s", err, string(out))
	}
	return nil
}

// Up starts the stack detached, applying scale overrides per service
func (s *ComposeService) Up(ctx context.Context, scales map[string]int) error {
	args := s.composeArgs("up", "-d")
	args = append(args, utils.MergeScales(scales)...)

	out, err := s.runner(ctx, "docker", args, nil)
	if err != nil {
		return fmt.Errorf("compose up failed: %w: %s", err, string(out))
	}
	return nil
}

// Down tears the stack down and removes volumes.
// Callers defer this so teardown runs regardless of prior step outcomes.
func (s *ComposeService) Down(ctx context.Context) error {
	out, err := s.runner(ctx, "docker", s.composeArgs("down", "-v", "--remove-orphans"), nil)
	if err != nil {
		return fmt.Errorf("compose down failed: %w: %s", err, string(out))
	}
	return nil
}

// StreamLogs starts a background log tail for observability only.
// The returned stop function kills the tail; its exit status is never
// treated as a pipeline failure.
func (s *ComposeService) StreamLogs(ctx context.Context, w io.Writer) (func(), error) {
	logger := zerolog.Ctx(ctx)

	cmd := exec.CommandContext(ctx, "docker", s.composeArgs("logs", "-f", "--no-color")...)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log tail: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug().Err(err).Msg("Log tail exited")
		}
	}()

	return func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}, nil
}

// LoadComposeFile reads and parses a compose file into a generic document
// suitable for policy evaluation
func LoadComposeFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrComposeFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file %s: %w", path, err)
	}

	return doc, nil
}
