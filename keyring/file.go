package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpnrdp-manager/common"
)

// FileVault keeps secrets in an AES-GCM encrypted JSON file. The key is
// derived from machine and user identity, so the file is only readable
// on the host and account that wrote it.
type FileVault struct {
	mu      sync.RWMutex
	path    string
	key     []byte
	secrets map[string]string
}

// NewFileVault opens (or prepares) the credentials file in dir.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	key, err := deriveKey(machineSecret())
	if err != nil {
		return nil, err
	}

	v := &FileVault{
		path:    filepath.Join(dir, common.CredentialsFileName),
		key:     key,
		secrets: make(map[string]string),
	}
	if err := v.load(); err != nil {
		common.LogWarn("Ignoring unreadable credentials file %s: %v", v.path, err)
	}
	return v, nil
}

func machineSecret() []byte {
	hostname, _ := os.Hostname()
	machineID := "default-machine-id"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	return []byte(fmt.Sprintf("%s|%s|%d", hostname, machineID, os.Getuid()))
}

func deriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(common.VaultService), []byte("credentials-file-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive credentials key: %w", err)
	}
	return key, nil
}

func entryName(service, key string) string {
	return service + "/" + key
}

// Get returns the secret or ErrNotFound.
func (v *FileVault) Get(service, key string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	secret, ok := v.secrets[entryName(service, key)]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Set stores the secret and rewrites the file.
func (v *FileVault) Set(service, key, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[entryName(service, key)] = secret
	return v.persist()
}

// Delete removes the secret and rewrites the file.
func (v *FileVault) Delete(service, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	name := entryName(service, key)
	if _, ok := v.secrets[name]; !ok {
		return nil
	}
	delete(v.secrets, name)
	return v.persist()
}

func (v *FileVault) load() error {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	plain, err := v.open(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, &v.secrets)
}

// persist must be called with mu held.
func (v *FileVault) persist() error {
	plain, err := json.Marshal(v.secrets)
	if err != nil {
		return err
	}
	sealed, err := v.seal(plain)
	if err != nil {
		return err
	}
	return common.WriteFilePrivate(v.path, sealed)
}

func (v *FileVault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *FileVault) seal(plain []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func (v *FileVault) open(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}

	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
