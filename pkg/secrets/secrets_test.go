package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()

	keyring, err := NewKeyring(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	return keyring
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	keyring := testKeyring(t)
	sealed, err := keyring.Seal("odoo-password-123")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	opened, err := keyring.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != "odoo-password-123" {
		t.Fatalf("Open() = %q", opened)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()

	keyring := testKeyring(t)
	sealed, err := keyring.Seal("secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xFF
	if _, err := keyring.Open(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatal("Open() accepted tampered ciphertext")
	}
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	t.Parallel()

	if _, err := testKeyring(t).Open(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("Open() accepted truncated blob")
	}
}

func TestNewKeyringRejectsBadLength(t *testing.T) {
	t.Parallel()

	if _, err := NewKeyring([]byte("too short")); err == nil {
		t.Fatal("NewKeyring() accepted short key")
	}
}

func TestLoadKeyringMissingEnv(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")

	if _, err := LoadKeyring(); !errors.Is(err, ErrMasterKeyMissing) {
		t.Fatalf("LoadKeyring() error = %v, want ErrMasterKeyMissing", err)
	}
}

func TestLoadKeyringFromEnv(t *testing.T) {
	t.Setenv(MasterKeyEnv, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))

	keyring, err := LoadKeyring()
	if err != nil {
		t.Fatalf("LoadKeyring() error = %v", err)
	}
	if keyring == nil {
		t.Fatal("LoadKeyring() returned nil keyring")
	}
}
