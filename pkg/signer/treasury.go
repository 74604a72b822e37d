package signer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// treasurySaltDomain domain-separates the treasury-key wrap from the 2FA
// secret wrap (pkg/auth) even though both derive from the same master key,
// so compromising one derived key never helps recover the other.
var treasurySaltDomain = []byte("cryptostake-platform:treasury-key-wrap:v1")

// EncryptPrivateKey wraps a raw ECDSA private key (hex, no 0x prefix) with
// AES-256-GCM under a key derived from masterKey via scrypt, for storage in
// TreasuryWallet.EncryptedPrivateKey.
func EncryptPrivateKey(masterKey string, privateKeyHex string) ([]byte, error) {
	if _, err := crypto.HexToECDSA(privateKeyHex); err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	key, err := deriveTreasuryKey(masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("signer: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(privateKeyHex), nil), nil
}

func decryptPrivateKey(masterKey string, ciphertext []byte) (*ecdsa.PrivateKey, error) {
	key, err := deriveTreasuryKey(masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("signer: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("signer: decrypt treasury key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(plain)))
	if err != nil {
		return nil, fmt.Errorf("signer: decode decrypted key: %w", err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: parse decrypted key: %w", err)
	}
	return priv, nil
}

func deriveTreasuryKey(masterKey string) ([]byte, error) {
	key, err := scrypt.Key([]byte(masterKey), treasurySaltDomain, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("signer: derive treasury key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("signer: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signer: new gcm: %w", err)
	}
	return gcm, nil
}

// EVMTreasurySigner signs EIP-155 transactions for treasury wallets,
// decrypting the private key only for the duration of the Sign call.
type EVMTreasurySigner struct {
	masterKey string
}

// NewEVMTreasurySigner constructs a TreasurySigner that unwraps keys with
// masterKey.
func NewEVMTreasurySigner(masterKey string) *EVMTreasurySigner {
	return &EVMTreasurySigner{masterKey: masterKey}
}

// Sign decrypts encryptedPrivateKey, builds a legacy EIP-155 transaction
// from tx, and signs it for chainID.
func (s *EVMTreasurySigner) Sign(ctx context.Context, chainID *big.Int, encryptedPrivateKey []byte, tx TxEnvelope) (*types.Transaction, error) {
	priv, err := decryptPrivateKey(s.masterKey, encryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	defer zeroize(priv)

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		To:       addrPtr(tx.To),
		Value:    tx.ValueWei,
		Gas:      tx.GasLimit,
		GasPrice: tx.GasPrice,
		Data:     tx.Data,
	})
	signer := types.NewEIP155Signer(chainID)
	signed, err := types.SignTx(unsigned, signer, priv)
	if err != nil {
		return nil, fmt.Errorf("signer: sign transaction: %w", err)
	}
	return signed, nil
}

func addrPtr(hexAddr string) *common.Address {
	a := common.HexToAddress(hexAddr)
	return &a
}

// zeroize clears the private key's scalar from memory once signing is
// done; it does not protect against a GC-relocated copy, which is an
// inherent limitation of software key custody the HSM/KMS replacement
// avoids entirely.
func zeroize(priv *ecdsa.PrivateKey) {
	if priv == nil || priv.D == nil {
		return
	}
	priv.D.SetInt64(0)
}
