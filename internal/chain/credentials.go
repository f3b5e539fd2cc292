package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridian-oracle/meridian/internal/kms"
)

// CredentialConfig locates the signing credential. The key material itself
// is an opaque handle supplied by the deployment environment: a hex-encoded
// private key file, optionally KMS-encrypted at rest. It is never inlined
// in config, logged, or persisted by this process.
type CredentialConfig struct {
	// Path to the credential file.
	Path string

	// KMSKeyID, when set, marks the file as a KMS ciphertext blob to be
	// decrypted before use.
	KMSKeyID  string
	AWSRegion string

	// KMSEndpoint overrides the AWS endpoint (LocalStack in development).
	KMSEndpoint string
}

// LoadPrivateKey reads the credential file and returns the parsed signing
// key. Plaintext key bytes only ever live inside a locked buffer, which is
// wiped before returning.
func LoadPrivateKey(ctx context.Context, cfg CredentialConfig) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	// The key bytes live only in locked memory until parsed; Decrypt and
	// NewBufferFromBytes both wipe their plaintext sources.
	var buf *memguard.LockedBuffer
	if cfg.KMSKeyID != "" {
		client, err := kms.New(ctx, cfg.AWSRegion, cfg.KMSEndpoint)
		if err != nil {
			return nil, err
		}
		buf, err = client.Decrypt(ctx, cfg.KMSKeyID, raw)
		if err != nil {
			return nil, err
		}
	} else {
		buf = memguard.NewBufferFromBytes(raw)
	}
	defer buf.Destroy()

	hexKey := strings.TrimSpace(string(buf.Bytes()))
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	return key, nil
}
