package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ECRService resolves the caller's ECR registry and authorization for
// pushing preview images
type ECRService struct {
	client    *ecr.Client
	stsClient *sts.Client
	region    string
}

func NewECRService(cfg aws.Config) *ECRService {
	return &ECRService{
		client:    ecr.NewFromConfig(cfg),
		stsClient: sts.NewFromConfig(cfg),
		region:    cfg.Region,
	}
}

// RegistryURI returns the default registry for the caller's account,
// e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com
func (s *ECRService) RegistryURI(ctx context.Context) (string, error) {
	identity, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}

	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", aws.ToString(identity.Account), s.region), nil
}

// Credentials is a decoded ECR authorization token
type Credentials struct {
	Username string
	Password string
}

// GetCredentials retrieves and decodes an ECR authorization token for
// docker login
func (s *ECRService) GetCredentials(ctx context.Context) (*Credentials, error) {
	output, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization token: %w", err)
	}

	if len(output.AuthorizationData) == 0 {
		return nil, fmt.Errorf("no authorization data returned")
	}

	auth := output.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(auth.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization token: %w", err)
	}

	// Token decodes to {username}:{password}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed authorization token")
	}

	return &Credentials{
		Username: parts[0],
		Password: parts[1],
	}, nil
}
