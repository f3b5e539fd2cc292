package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestLoadPrivateKey_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")
	// Well-known throwaway development key.
	content := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadPrivateKey(context.Background(), CredentialConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if addr != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("parsed key derives wrong address: %s", addr)
	}
}

func TestLoadPrivateKey_MissingFile(t *testing.T) {
	_, err := LoadPrivateKey(context.Background(), CredentialConfig{
		Path: filepath.Join(t.TempDir(), "absent"),
	})
	if err == nil {
		t.Fatal("expected error for missing credential file")
	}
}

func TestLoadPrivateKey_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPrivateKey(context.Background(), CredentialConfig{Path: path}); err == nil {
		t.Fatal("expected error for unparseable credential")
	}
}
