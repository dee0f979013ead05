package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/withkeystone/preview-deployer/internal/dao/rundao"
	"github.com/withkeystone/preview-deployer/internal/services"
)

func ProvideContext() context.Context {
	logger := ProvideLogger()
	return logger.WithContext(context.Background())
}

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

func ProvideDynamoDB(config aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(config)
}

func ProvideSecretsManager(config aws.Config) *services.SecretsManagerService {
	return services.NewSecretsManagerService(config)
}

func ProvideECRService(config aws.Config) *services.ECRService {
	return services.NewECRService(config)
}

// ProvideRunDAO provides the run-record DAO when a runs table is configured.
// Returns nil when recording is disabled. The value "default" selects the
// conventional {env}-preview-runs table.
func ProvideRunDAO(env string, config *services.Config, client *dynamodb.Client) *rundao.DAO {
	switch config.RunsTable {
	case "":
		return nil
	case "default":
		return rundao.New(client, rundao.TableName(env))
	default:
		return rundao.New(client, config.RunsTable)
	}
}
