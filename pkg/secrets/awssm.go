package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerProvider resolves awssm://<secret-id>#<json-key>
// references. Without a #key the whole secret string is returned.
type AWSSecretsManagerProvider struct {
	client secretsManagerAPI
}

// NewAWSSecretsManagerProvider creates a provider using the default AWS
// credential chain. region may be empty to use the environment's region.
func NewAWSSecretsManagerProvider(ctx context.Context, region string) (*AWSSecretsManagerProvider, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSecretsManagerProvider{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (p *AWSSecretsManagerProvider) Name() string {
	return "awssm"
}

func (p *AWSSecretsManagerProvider) Get(ctx context.Context, key string) (string, error) {
	secretID, field, _ := strings.Cut(key, "#")
	if secretID == "" {
		return "", fmt.Errorf("secret id is required")
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}

	if field == "" {
		return *out.SecretString, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", secretID, err)
	}
	value, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("secret %s has no key %q", secretID, field)
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprint(value), nil
}
