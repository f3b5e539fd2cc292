package kms

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type decryptRequest struct {
	CiphertextBlob []byte `json:"CiphertextBlob"`
	KeyID          string `json:"KeyId"`
}

type decryptResponse struct {
	KeyID     string `json:"KeyId"`
	Plaintext []byte `json:"Plaintext"`
}

func TestDecrypt_PinsKeyAndLocksPlaintext(t *testing.T) {
	var gotTarget string
	var gotReq decryptRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.Header.Get("X-Amz-Target")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		json.NewEncoder(w).Encode(decryptResponse{
			KeyID:     gotReq.KeyID,
			Plaintext: []byte("0xdeadbeef"),
		})
	}))
	defer ts.Close()

	client, err := New(context.Background(), "us-east-1", ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	buf, err := client.Decrypt(context.Background(), "alias/pusher-signing", []byte("wrapped-key"))
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy()

	if gotTarget != "TrentService.Decrypt" {
		t.Fatalf("unexpected target: %q", gotTarget)
	}
	if gotReq.KeyID != "alias/pusher-signing" {
		t.Fatalf("decryption not pinned to the configured key: %q", gotReq.KeyID)
	}
	if string(gotReq.CiphertextBlob) != "wrapped-key" {
		t.Fatalf("unexpected ciphertext: %q", gotReq.CiphertextBlob)
	}
	if string(buf.Bytes()) != "0xdeadbeef" {
		t.Fatalf("unexpected plaintext: %q", buf.Bytes())
	}
}

func TestDecrypt_ServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"InvalidCiphertextException"}`))
	}))
	defer ts.Close()

	client, err := New(context.Background(), "us-east-1", ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Decrypt(context.Background(), "", []byte("garbage")); err == nil {
		t.Fatal("expected error for rejected ciphertext")
	}
}
