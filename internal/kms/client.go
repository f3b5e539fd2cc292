// Package kms decrypts KMS-wrapped signing credentials. Plaintext key
// material leaves this package only inside a locked buffer.
package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/awnumar/memguard"
)

// Client performs KMS decryption operations.
type Client struct {
	kms *kms.Client
}

// New creates a KMS Client. If endpoint is non-empty, the client targets
// that endpoint with dummy credentials (LocalStack in development).
// Otherwise it uses the AWS default credential chain (IAM roles in
// production).
func New(ctx context.Context, region, endpoint string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if endpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &Client{
		kms: kms.NewFromConfig(cfg, kmsOpts...),
	}, nil
}

// Decrypt sends the ciphertext blob to KMS and returns the plaintext inside
// a locked buffer; the SDK's plaintext copy is wiped before returning.
// keyID, when non-empty, pins the decryption to that key, so a credential
// file swapped for a ciphertext under a different key is rejected. The
// caller owns the buffer and must destroy it after use; the plaintext is
// never logged.
func (c *Client) Decrypt(ctx context.Context, keyID string, ciphertext []byte) (*memguard.LockedBuffer, error) {
	in := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if keyID != "" {
		in.KeyId = aws.String(keyID)
	}

	out, err := c.kms.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}

	// NewBufferFromBytes wipes its source.
	return memguard.NewBufferFromBytes(out.Plaintext), nil
}
