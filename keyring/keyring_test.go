package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yllada/vpnrdp-manager/common"
)

func TestKey(t *testing.T) {
	if got := Key("office", "vpn"); got != "office_vpn" {
		t.Errorf("Key() = %q, want office_vpn", got)
	}
}

func TestFileVault_SetGetDelete(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileVault(dir)
	if err != nil {
		t.Fatalf("NewFileVault() error = %v", err)
	}

	if _, err := v.Get("vpnrdp", "office_vpn"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on empty vault error = %v, want ErrNotFound", err)
	}

	if err := v.Set("vpnrdp", "office_vpn", "s3cret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := v.Get("vpnrdp", "office_vpn")
	if err != nil || got != "s3cret" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	if err := v.Delete("vpnrdp", "office_vpn"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := v.Get("vpnrdp", "office_vpn"); !errors.Is(err, ErrNotFound) {
		t.Error("secret should be gone after Delete()")
	}
}

func TestFileVault_PersistsEncrypted(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileVault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Set("vpnrdp", "office_rdp", "plain-text-secret"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, common.CredentialsFileName))
	if err != nil {
		t.Fatalf("credentials file missing: %v", err)
	}
	if strings.Contains(string(data), "plain-text-secret") {
		t.Error("credentials file should not contain the plaintext secret")
	}

	reopened, err := NewFileVault(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get("vpnrdp", "office_rdp")
	if err != nil || got != "plain-text-secret" {
		t.Errorf("reopened Get() = %q, %v", got, err)
	}
}

func TestFileVault_CorruptFileIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, common.CredentialsFileName), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}

	v, err := NewFileVault(dir)
	if err != nil {
		t.Fatalf("NewFileVault() error = %v", err)
	}
	if _, err := v.Get("vpnrdp", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

type memVault struct {
	data    map[string]string
	failing bool
	sets    int
}

func newMemVault() *memVault { return &memVault{data: make(map[string]string)} }

func (m *memVault) Get(service, key string) (string, error) {
	if m.failing {
		return "", ErrUnavailable
	}
	s, ok := m.data[service+"/"+key]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (m *memVault) Set(service, key, secret string) error {
	if m.failing {
		return ErrUnavailable
	}
	m.sets++
	m.data[service+"/"+key] = secret
	return nil
}

func (m *memVault) Delete(service, key string) error {
	if m.failing {
		return ErrUnavailable
	}
	delete(m.data, service+"/"+key)
	return nil
}

func TestFallbackVault_PrefersSystem(t *testing.T) {
	sys, file := newMemVault(), newMemVault()
	v := NewFallbackVault(sys, file)

	if err := v.Set("vpnrdp", "a_vpn", "x"); err != nil {
		t.Fatal(err)
	}
	if sys.sets != 1 || file.sets != 0 {
		t.Errorf("Set() should go to the system vault, sys=%d file=%d", sys.sets, file.sets)
	}
	if v.UsingFile() {
		t.Error("vault should not degrade on success")
	}
}

func TestFallbackVault_DegradesOnFailure(t *testing.T) {
	sys, file := newMemVault(), newMemVault()
	sys.failing = true
	v := NewFallbackVault(sys, file)

	if err := v.Set("vpnrdp", "a_vpn", "x"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !v.UsingFile() {
		t.Error("vault should degrade after system failure")
	}
	got, err := v.Get("vpnrdp", "a_vpn")
	if err != nil || got != "x" {
		t.Errorf("Get() = %q, %v", got, err)
	}
}

func TestFallbackVault_MissDoesNotDegrade(t *testing.T) {
	v := NewFallbackVault(newMemVault(), newMemVault())

	if _, err := v.Get("vpnrdp", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if v.UsingFile() {
		t.Error("a plain miss should not switch to the file store")
	}
}

func TestFallbackVault_RejectsEmptySecret(t *testing.T) {
	v := NewFallbackVault(newMemVault(), newMemVault())
	if err := v.Set("vpnrdp", "a_vpn", ""); err == nil {
		t.Error("Set() should reject an empty secret")
	}
}
