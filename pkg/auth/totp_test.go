package auth

import "testing"

func TestEncryptDecryptTwoFactorSecret_RoundTrip(t *testing.T) {
	masterKey := "a-master-key-at-least-32-bytes-long"
	secret := "JBSWY3DPEHPK3PXP"

	ciphertext, err := EncryptTwoFactorSecret(masterKey, secret)
	if err != nil {
		t.Fatalf("EncryptTwoFactorSecret: %v", err)
	}
	if string(ciphertext) == secret {
		t.Fatal("ciphertext must not equal the plaintext secret")
	}

	plain, err := DecryptTwoFactorSecret(masterKey, ciphertext)
	if err != nil {
		t.Fatalf("DecryptTwoFactorSecret: %v", err)
	}
	if plain != secret {
		t.Fatalf("expected decrypted secret %q, got %q", secret, plain)
	}
}

func TestDecryptTwoFactorSecret_WrongMasterKeyFails(t *testing.T) {
	ciphertext, err := EncryptTwoFactorSecret("first-master-key-32-bytes-long!", "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("EncryptTwoFactorSecret: %v", err)
	}
	if _, err := DecryptTwoFactorSecret("second-master-key-32-bytes-long!", ciphertext); err == nil {
		t.Fatal("expected decryption to fail under the wrong master key")
	}
}

func TestGenerateRecoveryCodes_ReturnsDistinctCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(8)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(codes))
	}
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if len(c) != 8 {
			t.Fatalf("expected 8-character code, got %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate recovery code generated: %q", c)
		}
		seen[c] = true
	}
}
