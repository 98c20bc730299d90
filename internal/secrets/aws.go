package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads secrets from AWS Secrets Manager. Each secret is stored under
// its own name, either as a plain string or as a JSON object whose first value is used.
type AWSSource struct {
	client SecretsManagerAPI
	prefix string
}

// NewAWSSource creates a source. prefix is prepended to every secret id.
func NewAWSSource(client SecretsManagerAPI, prefix string) *AWSSource {
	return &AWSSource{client: client, prefix: prefix}
}

// Get fetches one secret.
func (s *AWSSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.prefix + name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get secret value: %w", err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return "", ErrNotFound
	}
	return firstValue(raw)
}

// firstValue returns the first value of a JSON object, or raw itself when it is not an object.
func firstValue(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if !dec.More() {
		return "", ErrNotFound
	}
	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("decode secret key: %w", err)
	}

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode secret value: %w", err)
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", ErrNotFound
	default:
		return fmt.Sprint(val), nil
	}
}
