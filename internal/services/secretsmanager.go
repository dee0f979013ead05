package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

// secretRefPrefix marks a configuration value that should be resolved from
// AWS Secrets Manager instead of being used verbatim
const secretRefPrefix = "secretsmanager:"

type SecretsManagerService struct {
	client *secretsmanager.Client
}

func NewSecretsManagerService(cfg aws.Config) *SecretsManagerService {
	return &SecretsManagerService{
		client: secretsmanager.NewFromConfig(cfg),
	}
}

// GetSecretString retrieves a secret's string value by name or ARN
func (s *SecretsManagerService) GetSecretString(ctx context.Context, secretID string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("secret %s does not exist", secretID)
		}

		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("failed to get secret %s (%s): %w", secretID, apiErr.ErrorCode(), err)
		}

		return "", fmt.Errorf("failed to get secret %s: %w", secretID, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}

	return *result.SecretString, nil
}

// Resolve returns value as-is unless it carries the secretsmanager: prefix,
// in which case the remainder is treated as a secret name or ARN and fetched.
// This lets tokens like the Keystone API key live in Secrets Manager while
// plain values keep working for local runs.
func (s *SecretsManagerService) Resolve(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return value, nil
	}

	return s.GetSecretString(ctx, strings.TrimPrefix(value, secretRefPrefix))
}
