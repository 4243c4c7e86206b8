// Package signing implements the HMAC-SHA256 tamper-evidence chain over a
// session's audit events: key lifecycle, canonicalization, and best-effort
// chain verification.
package signing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const keyFileName = "signing.key"
const keySize = 32

// KeyPath returns the on-disk location of a project's signing key.
func KeyPath(stateDir string) string {
	return filepath.Join(stateDir, keyFileName)
}

// GenerateKey creates a new random 32-byte key hex-encoded at KeyPath(dir)
// with mode 0600. It never overwrites an existing key file; the returned
// bool reports whether a new key was written.
func GenerateKey(stateDir string) (bool, error) {
	path := KeyPath(stateDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat signing key: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return false, fmt.Errorf("create state dir: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return false, fmt.Errorf("generate signing key: %w", err)
	}

	encoded := hex.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return false, fmt.Errorf("write signing key: %w", err)
	}
	return true, nil
}

// LoadKey reads the signing key from stateDir. It returns found=false
// without error if the key file does not exist.
func LoadKey(stateDir string) (key []byte, found bool, err error) {
	raw, err := os.ReadFile(KeyPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read signing key: %w", err)
	}
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode signing key: %w", err)
	}
	if len(decoded) != keySize {
		return nil, false, fmt.Errorf("signing key has unexpected length %d, want %d", len(decoded), keySize)
	}
	return decoded, true, nil
}
