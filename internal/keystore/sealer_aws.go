package keystore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// AWSKMSSealer implements Sealer using AWS KMS.
type AWSKMSSealer struct {
	keyID  string
	region string
	client *kms.Client
}

// NewAWSKMSSealer creates a new AWS KMS sealer.
func NewAWSKMSSealer(keyID, region string) (*AWSKMSSealer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Uses the default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSSealer{
		keyID:  keyID,
		region: region,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts data using AWS KMS
func (s *AWSKMSSealer) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	output, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt decrypts data using AWS KMS
func (s *AWSKMSSealer) Decrypt(ctx context.Context, sealed []byte) ([]byte, error) {
	output, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(s.keyID),
		CiphertextBlob: sealed,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (s *AWSKMSSealer) Provider() string {
	return "aws-kms"
}
