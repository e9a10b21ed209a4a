// Package identity tests cover key generation, reloading, signing and
// address derivation.
package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIdentityLifecycle(t *testing.T) {
	// An existing but empty file is treated as missing.
	tmpFile, err := os.CreateTemp(t.TempDir(), "test_key_*.pem")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	identity1, err := LoadOrCreateIdentity(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	identity2, err := LoadOrCreateIdentity(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}
	if identity1.PublicKeyHex() != identity2.PublicKeyHex() {
		t.Errorf("Loaded identity differs from original. Got %s, want %s",
			identity2.PublicKeyHex(), identity1.PublicKeyHex())
	}
	if identity1.Address() != identity2.Address() {
		t.Errorf("Address changed across reload: %s vs %s", identity1.Address().Hex(), identity2.Address().Hex())
	}

	identity3, err := LoadIdentity(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if identity3.Address() != identity1.Address() {
		t.Error("LoadIdentity returned a different key")
	}
}

func TestLoadIdentityMissing(t *testing.T) {
	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "absent.pem")); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestLoadIdentityGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("expected PEM decode error")
	}
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateIdentity(filepath.Join(dir, "test_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	message := []byte("one coffee please")
	signature := identity.Sign(message)

	if !identity.Verify(message, signature) {
		t.Error("Failed to verify signature with own public key")
	}

	otherIdentity, err := LoadOrCreateIdentity(filepath.Join(dir, "other_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create other identity: %v", err)
	}
	if otherIdentity.Verify(message, signature) {
		t.Error("Incorrectly verified signature with wrong public key")
	}
	if otherIdentity.Address() == identity.Address() {
		t.Error("distinct keys produced the same address")
	}
}

func TestAddressFromPublicKey(t *testing.T) {
	identity, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "addr.pem"))
	if err != nil {
		t.Fatal(err)
	}

	addr := AddressFromPublicKey(identity.PublicKey())
	if addr != identity.Address() {
		t.Fatalf("derived %s, identity has %s", addr.Hex(), identity.Address().Hex())
	}
	if addr == (common.Address{}) {
		t.Fatal("derived zero address")
	}
	if !common.IsHexAddress(addr.Hex()) {
		t.Fatalf("address %s does not round-trip as hex", addr.Hex())
	}
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "nested", "secure_test_key.pem")

	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Key file has wrong permissions. Got %v, want %v",
			info.Mode().Perm(), 0600)
	}
}
