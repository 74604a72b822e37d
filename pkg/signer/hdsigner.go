package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SoftwareHDSigner derives per-index keys from a single master seed via
// HMAC-SHA512(masterSeed, path), the same "derive, never expose the seed"
// shape as BIP-32 without implementing the full hardened/non-hardened
// curve-point arithmetic — sufficient for a reference custody module whose
// production replacement is an HSM/KMS-backed implementation of the same
// HDSigner interface. The seed lives only inside this struct.
type SoftwareHDSigner struct {
	masterSeed []byte
}

// NewSoftwareHDSigner constructs an HDSigner from a hex or raw master seed.
// masterSeed must never be logged or persisted outside this module.
func NewSoftwareHDSigner(masterSeed []byte) *SoftwareHDSigner {
	return &SoftwareHDSigner{masterSeed: masterSeed}
}

// DeriveAddress derives an EVM address for the given chain slug and index
// and returns it with the nominal path m/44'/60'/0'/0/index. The key is
// HMAC-SHA512(masterSeed, chain slug and index), not the BIP-32 key at that
// path. The chain slug participates in derivation so the same index on two
// different chains yields different keys, even though EVM chains share an
// address format.
func (s *SoftwareHDSigner) DeriveAddress(ctx context.Context, chainSlug string, index int64) (string, string, error) {
	path := fmt.Sprintf("m/44'/60'/0'/0/%d", index)
	priv, err := s.derive(chainSlug, index)
	if err != nil {
		return "", "", err
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	return addr.Hex(), path, nil
}

func (s *SoftwareHDSigner) derive(chainSlug string, index int64) (*ecdsa.PrivateKey, error) {
	mac := hmac.New(sha512.New, s.masterSeed)
	fmt.Fprintf(mac, "deposit-address:%s:%d", chainSlug, index)
	sum := mac.Sum(nil)
	priv, err := crypto.ToECDSA(sum[:32])
	if err != nil {
		return nil, fmt.Errorf("signer: derive key: %w", err)
	}
	return priv, nil
}
