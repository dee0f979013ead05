package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds all application configuration values
type Config struct {
	KeystoneAPIURL string // Keystone API endpoint; empty means production
	KeystoneAPIKey string // API key, or a secretsmanager: reference
	GitHubToken    string // GitHub token, or a secretsmanager: reference
	RunsTable      string // DynamoDB table for run records; empty disables recording, "default" uses {env}-preview-runs
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all application configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all application configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/preview-deployer", s.env)

	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			name := strings.TrimPrefix(*param.Name, path+"/")
			params[name] = *param.Value
		}
	}

	return &Config{
		KeystoneAPIURL: params["keystone-api-url"],
		KeystoneAPIKey: params["keystone-api-key"],
		GitHubToken:    params["github-token"],
		RunsTable:      params["runs-table"],
	}, nil
}

// EnvParameterStore implements ParameterStore using environment variables.
// Used for local development and CI runners without SSM access.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates an environment-variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{env: env}
}

// GetParameter maps a parameter name to its environment variable equivalent,
// e.g. keystone-api-key -> KEYSTONE_API_KEY
func (s *EnvParameterStore) GetParameter(_ context.Context, name string) (string, error) {
	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(envName)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envName)
	}
	return value, nil
}

// GetConfig loads all application configuration from environment variables
func (s *EnvParameterStore) GetConfig(_ context.Context) (*Config, error) {
	return &Config{
		KeystoneAPIURL: os.Getenv("KEYSTONE_API_URL"),
		KeystoneAPIKey: os.Getenv("KEYSTONE_API_KEY"),
		GitHubToken:    os.Getenv("GITHUB_TOKEN"),
		RunsTable:      os.Getenv("PREVIEW_RUNS_TABLE"),
	}, nil
}

func boolPtr(b bool) *bool {
	return &b
}
