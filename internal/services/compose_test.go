package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/withkeystone/preview-deployer/internal/errors"
)

type recordedCommand struct {
	name  string
	args  []string
	stdin string
}

// fakeRunner captures invocations instead of executing binaries
func fakeRunner(commands *[]recordedCommand, err error) CommandRunner {
	return func(_ context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
		var in string
		if stdin != nil {
			data, _ := io.ReadAll(stdin)
			in = string(data)
		}
		*commands = append(*commands, recordedCommand{name: name, args: args, stdin: in})
		if err != nil {
			return []byte("boom"), err
		}
		return nil, nil
	}
}

func TestComposeService_Build(t *testing.T) {
	var commands []recordedCommand
	svc := NewComposeService("docker-compose.yml", "preview")
	svc.runner = fakeRunner(&commands, nil)

	err := svc.Build(context.Background(), "web", "worker")
	require.NoError(t, err)

	require.Len(t, commands, 1)
	assert.Equal(t, "docker", commands[0].name)
	assert.Equal(t, []string{"compose", "-f", "docker-compose.yml", "-p", "preview", "build", "web", "worker"}, commands[0].args)
}

func TestComposeService_Up(t *testing.T) {
	var commands []recordedCommand
	svc := NewComposeService("compose.yaml", "preview-42")
	svc.runner = fakeRunner(&commands, nil)

	err := svc.Up(context.Background(), map[string]int{"worker": 2, "web": 1})
	require.NoError(t, err)

	require.Len(t, commands, 1)
	assert.Equal(t, []string{
		"compose", "-f", "compose.yaml", "-p", "preview-42",
		"up", "-d",
		"--scale", "web=1", "--scale", "worker=2",
	}, commands[0].args)
}

func TestComposeService_Down(t *testing.T) {
	var commands []recordedCommand
	svc := NewComposeService("docker-compose.yml", "preview")
	svc.runner = fakeRunner(&commands, nil)

	err := svc.Down(context.Background())
	require.NoError(t, err)

	require.Len(t, commands, 1)
	assert.Equal(t, []string{"compose", "-f", "docker-compose.yml", "-p", "preview", "down", "-v", "--remove-orphans"}, commands[0].args)
}

func TestComposeService_CommandFailure(t *testing.T) {
	var commands []recordedCommand
	svc := NewComposeService("docker-compose.yml", "preview")
	svc.runner = fakeRunner(&commands, assert.AnError)

	err := svc.Build(context.Background())
	require.Error(t, err)
	// Command output is folded into the error for debugging
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadComposeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yml")

	content := `
services:
  web:
    build: .
    ports:
      - "3000:3000"
  worker:
    build: .
    command: worker
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := LoadComposeFile(path)
	require.NoError(t, err)

	servicesDoc, ok := doc["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, servicesDoc, "web")
	assert.Contains(t, servicesDoc, "worker")
}

func TestLoadComposeFile_NotFound(t *testing.T) {
	_, err := LoadComposeFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, apperrors.ErrComposeFileNotFound)
}

func TestLoadComposeFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte("services: [unbalanced"), 0o644))

	_, err := LoadComposeFile(path)
	assert.Error(t, err)
}
