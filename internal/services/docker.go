package services

import (
	"context"
	"fmt"
	"strings"
)

// DockerService wraps the plain docker CLI for image tag and push operations
type DockerService struct {
	runner CommandRunner
}

func NewDockerService() *DockerService {
	return &DockerService{runner: execRunner}
}

// Login authenticates the docker CLI against a registry.
// The password is passed over stdin so it never appears in the process table.
func (s *DockerService) Login(ctx context.Context, registry, username, password string) error {
	args := []string{"login", "--username", username, "--password-stdin", registry}

	out, err := s.runner(ctx, "docker", args, strings.NewReader(password))
	if err != nil {
		return fmt.Errorf("docker login to %s failed: %w: %s", registry, err, string(out))
	}
	return nil
}

// Tag applies a new tag to a local image
func (s *DockerService) Tag(ctx context.Context, source, target string) error {
	out, err := s.runner(ctx, "docker", []string{"tag", source, target}, nil)
	if err != nil {
		return fmt.Errorf("docker tag %s -> %s failed: %w: %s", source, target, err, string(out))
	}
	return nil
}

// Push pushes an image reference to its registry
func (s *DockerService) Push(ctx context.Context, image string) error {
	out, err := s.runner(ctx, "docker", []string{"push", image}, nil)
	if err != nil {
		return fmt.Errorf("docker push %s failed: %w: %s", image, err, string(out))
	}
	return nil
}
