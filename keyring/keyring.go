// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpnrdp-manager/common"
)

// Common errors returned by vault operations.
var (
	ErrNotFound    = common.ErrCredentialNotFound
	ErrUnavailable = common.ErrVaultUnavailable
)

// Vault is a get/set key-value store for secrets, namespaced by service.
type Vault interface {
	Get(service, key string) (string, error)
	Set(service, key, secret string) error
	Delete(service, key string) error
}

// Key builds the vault key for a profile's secret of the given kind,
// e.g. "office_vpn".
func Key(profileName, kind string) string {
	return profileName + "_" + kind
}

// SystemVault stores secrets in the desktop keyring (Secret Service, KWallet via
// Secret Service, macOS Keychain, Windows Credential Manager).
type SystemVault struct{}

// Get returns the secret or ErrNotFound.
func (SystemVault) Get(service, key string) (string, error) {
	secret, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return secret, nil
}

// Set stores the secret.
func (SystemVault) Set(service, key, secret string) error {
	if err := keyring.Set(service, key, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the secret. Deleting a missing secret is not an error.
func (SystemVault) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// CheckWritable checks that the system keyring accepts writes.
func (v SystemVault) CheckWritable(service string) error {
	const checkKey = "vpnrdp-check"
	if err := v.Set(service, checkKey, "check"); err != nil {
		return err
	}
	return v.Delete(service, checkKey)
}

// FallbackVault prefers the system keyring and switches to the encrypted
// file for the rest of the process lifetime once the keyring fails.
type FallbackVault struct {
	mu       sync.RWMutex
	system   Vault
	file     Vault
	degraded bool
}

// NewFallbackVault combines a primary and a fallback vault.
func NewFallbackVault(system, file Vault) *FallbackVault {
	return &FallbackVault{system: system, file: file}
}

// Open tests the system keyring and returns a vault that falls back to
// an encrypted credentials file in dir.
func Open(dir string) (*FallbackVault, error) {
	file, err := NewFileVault(dir)
	if err != nil {
		return nil, err
	}

	v := NewFallbackVault(SystemVault{}, file)
	if err := (SystemVault{}).CheckWritable(common.VaultService); err != nil {
		common.LogWarn("System keyring unavailable, using encrypted file: %v", err)
		v.degraded = true
	}
	return v, nil
}

// UsingFile reports whether the vault has fallen back to the file store.
func (v *FallbackVault) UsingFile() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.degraded
}

func (v *FallbackVault) degrade(err error) {
	v.mu.Lock()
	if !v.degraded {
		common.LogWarn("System keyring failed, switching to encrypted file: %v", err)
	}
	v.degraded = true
	v.mu.Unlock()
}

// Get looks in the system keyring, then in the file store.
func (v *FallbackVault) Get(service, key string) (string, error) {
	if !v.UsingFile() {
		secret, err := v.system.Get(service, key)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrNotFound) {
			v.degrade(err)
		}
	}
	return v.file.Get(service, key)
}

// Set writes to the system keyring, or to the file store once degraded.
func (v *FallbackVault) Set(service, key, secret string) error {
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	if !v.UsingFile() {
		err := v.system.Set(service, key, secret)
		if err == nil {
			return nil
		}
		v.degrade(err)
	}
	return v.file.Set(service, key, secret)
}

// Delete removes the secret from both stores.
func (v *FallbackVault) Delete(service, key string) error {
	var sysErr error
	if !v.UsingFile() {
		sysErr = v.system.Delete(service, key)
	}
	if err := v.file.Delete(service, key); err != nil {
		return err
	}
	return sysErr
}
