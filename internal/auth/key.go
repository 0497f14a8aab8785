package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const keyFileName = "session.key"

// LoadOrCreateKey reads the session signing key from dir/session.key. A
// missing or empty file is replaced by a fresh 256-bit key.
func LoadOrCreateKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, keyFileName)

	data, err := os.ReadFile(path) //nolint:gosec // dir comes from configuration
	if err == nil {
		if key := bytes.TrimSpace(data); len(key) > 0 {
			return key, nil
		}
	}

	return writeNewKey(dir, path)
}

// RotateKey replaces the signing key. Every issued session token stops
// verifying.
func RotateKey(dir string) ([]byte, error) {
	return writeNewKey(dir, filepath.Join(dir, keyFileName))
}

func writeNewKey(dir, path string) ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	key := []byte(hex.EncodeToString(raw))

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}
