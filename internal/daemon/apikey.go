package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateAPIKey returns the persisted API key, generating one on first
// use so clients have something to pair against out of the box.
func LoadOrCreateAPIKey(path string) (string, error) {
	if key, err := readAPIKey(path); err == nil && key != "" {
		_ = os.Chmod(path, 0o600)
		return key, nil
	} else if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", err
	}
	return key, nil
}

func readAPIKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
