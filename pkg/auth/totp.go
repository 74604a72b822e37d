package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/scrypt"
)

// twoFactorSaltDomain is a fixed, non-secret domain-separation value mixed
// into the scrypt key derivation so the key used to wrap 2FA secrets never
// collides with a key derived for another purpose from the same master
// secret.
var twoFactorSaltDomain = []byte("cryptostake-platform:2fa-secret-wrap:v1")

// GenerateTOTPSecret issues a new TOTP secret for the given account label
// and returns both the otpauth:// URL (rendered as a QR code by the client)
// and the raw base32 secret to encrypt and store.
func GenerateTOTPSecret(issuer, accountEmail string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key, nil
}

// ValidateTOTPCode checks a 6-digit code against secret for the current
// time step, allowing the standard +/-1 step skew.
func ValidateTOTPCode(secret, code string) bool {
	return totp.Validate(code, secret)
}

// EncryptTwoFactorSecret wraps a raw TOTP secret with AES-256-GCM using a
// key derived from masterKey via scrypt, so the database never holds the
// secret in the clear.
func EncryptTwoFactorSecret(masterKey, secret string) ([]byte, error) {
	key, err := deriveWrapKey(masterKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("auth: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("auth: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("auth: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(secret), nil), nil
}

// DecryptTwoFactorSecret reverses EncryptTwoFactorSecret.
func DecryptTwoFactorSecret(masterKey string, ciphertext []byte) (string, error) {
	key, err := deriveWrapKey(masterKey)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("auth: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("auth: new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("auth: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("auth: decrypt two-factor secret: %w", err)
	}
	return string(plain), nil
}

func deriveWrapKey(masterKey string) ([]byte, error) {
	key, err := scrypt.Key([]byte(masterKey), twoFactorSaltDomain, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("auth: derive wrap key: %w", err)
	}
	return key, nil
}

// GenerateRecoveryCodes returns n random 8-character alphanumeric recovery
// codes, intended to be hashed individually before storage.
func GenerateRecoveryCodes(n int) ([]string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, n)
	for i := range codes {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generate recovery code: %w", err)
		}
		var sb bytes.Buffer
		for _, b := range buf {
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
		}
		codes[i] = sb.String()
	}
	return codes, nil
}
