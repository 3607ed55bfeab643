package xray

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func scriptedEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xray")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	path := scriptedEngine(t, `echo "Xray 25.1.30 (Xray, Penetrates Everything.)"`)
	version, err := Version(context.Background(), path)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "25.1.30" {
		t.Fatalf("version = %q", version)
	}
}

func TestVersionBinaryMissing(t *testing.T) {
	_, err := Version(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("expected ErrBinaryMissing, got %v", err)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	path := scriptedEngine(t, `echo "Private key: cPrivateValue"
echo "Public key: cPublicValue"`)
	private, public, err := GenerateKeyPair(context.Background(), path)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if private != "cPrivateValue" || public != "cPublicValue" {
		t.Fatalf("got %q / %q", private, public)
	}
}

func TestGenerateKeyPairPasswordSpelling(t *testing.T) {
	// Newer builds print "PrivateKey" and label the public half "Password".
	path := scriptedEngine(t, `echo "PrivateKey: secretValue"
echo "Password: pubValue"`)
	private, public, err := GenerateKeyPair(context.Background(), path)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if private != "secretValue" || public != "pubValue" {
		t.Fatalf("got %q / %q", private, public)
	}
}
