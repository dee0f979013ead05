package di

import (
	"context"
	"fmt"

	"github.com/withkeystone/preview-deployer/internal/services"
)

// ProvideKeystoneService builds the Keystone API client. The API key may be a
// secretsmanager: reference, resolved here so the rest of the app only ever
// sees the plain key.
func ProvideKeystoneService(ctx context.Context, config *services.Config, sm *services.SecretsManagerService) (*services.KeystoneService, error) {
	apiKey, err := sm.Resolve(ctx, config.KeystoneAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Keystone API key: %w", err)
	}

	return services.NewKeystoneService(apiKey, config.KeystoneAPIURL)
}

// ProvideGitHubService builds the GitHub API client. The token may be a
// secretsmanager: reference. An empty token yields a client that can only be
// used for commands that never reach GitHub; commands that do validate it.
func ProvideGitHubService(ctx context.Context, config *services.Config, sm *services.SecretsManagerService) (*services.GitHubService, error) {
	token, err := sm.Resolve(ctx, config.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub token: %w", err)
	}

	return services.NewGitHubService(token), nil
}
