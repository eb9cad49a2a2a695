package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/yllada/vpnrdp-manager/common"
)

// NewToken returns a random per-instance API token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// WriteTokenFile stores token readable by the owner only.
func WriteTokenFile(path, token string) error {
	if err := common.WriteFilePrivate(path, []byte(token+"\n")); err != nil {
		return fmt.Errorf("failed to write API token: %w", err)
	}
	return nil
}

// ReadTokenFile returns the token of the running instance, or "" when
// none is published.
func ReadTokenFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
