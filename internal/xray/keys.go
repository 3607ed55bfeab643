package xray

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrBinaryMissing means the engine executable is absent on disk; nothing
// can be spawned or queried until it is installed.
var ErrBinaryMissing = errors.New("xray binary not found")

const commandTimeout = 10 * time.Second

// Installed reports whether the engine executable exists at path.
func Installed(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Version invokes `xray version` and extracts the bare version token from
// the first output line ("Xray 1.8.24 (Xray, ...)" -> "1.8.24").
func Version(ctx context.Context, path string) (string, error) {
	if !Installed(path) {
		return "", ErrBinaryMissing
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		return "", fmt.Errorf("xray version: %w", err)
	}

	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	parts := strings.Fields(first)
	if len(parts) >= 2 {
		return parts[1], nil
	}
	if first == "" {
		return "unknown", nil
	}
	return first, nil
}

// GenerateKeyPair invokes `xray x25519` for a Reality server key pair.
// Output lines are matched case-insensitively: "private" marks the private
// key; "public" (or "password" in newer releases) marks the public key.
func GenerateKeyPair(ctx context.Context, path string) (privateKey, publicKey string, err error) {
	if !Installed(path) {
		return "", "", ErrBinaryMissing
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "x25519").Output()
	if err != nil {
		return "", "", fmt.Errorf("xray x25519: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		low := strings.ToLower(line)
		switch {
		case strings.Contains(low, "private"):
			privateKey = valueAfterColon(line)
		case strings.Contains(low, "public"), strings.Contains(low, "password"):
			publicKey = valueAfterColon(line)
		}
	}
	if privateKey == "" || publicKey == "" {
		return "", "", fmt.Errorf("xray x25519: unparseable output %q", strings.TrimSpace(string(out)))
	}
	return privateKey, publicKey, nil
}

func valueAfterColon(line string) string {
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line[idx+1:])
}
