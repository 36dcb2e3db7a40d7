package awsenv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
)

// LoadAWSConfig loads the default AWS configuration for the settings' region.
func LoadAWSConfig(ctx context.Context, s Settings) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewDynamoDBClient creates a DynamoDB client from cfg.
// If DynamoDBEndpoint is set, it overrides the default endpoint (for local development).
func NewDynamoDBClient(cfg aws.Config, s Settings) *dynamodb.Client {
	var opts []func(*dynamodb.Options)
	if s.DynamoDBEndpoint != "" {
		// For local DynamoDB, use dummy credentials and custom endpoint
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(s.DynamoDBEndpoint)
			o.Credentials = localCredentials()
		})
	}
	return dynamodb.NewFromConfig(cfg, opts...)
}

// NewEventBridgeClient creates an EventBridge client from cfg.
// If EventBridgeEndpoint is set, it overrides the default endpoint.
func NewEventBridgeClient(cfg aws.Config, s Settings) *eventbridge.Client {
	var opts []func(*eventbridge.Options)
	if s.EventBridgeEndpoint != "" {
		opts = append(opts, func(o *eventbridge.Options) {
			o.BaseEndpoint = aws.String(s.EventBridgeEndpoint)
			o.Credentials = localCredentials()
		})
	}
	return eventbridge.NewFromConfig(cfg, opts...)
}

func localCredentials() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider("dummy", "dummy", "")
}
