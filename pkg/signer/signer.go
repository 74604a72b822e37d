// Package signer abstracts custody of the platform's private keys behind
// two narrow interfaces: HDSigner derives deposit addresses without ever
// exposing a private key to callers, and TreasurySigner produces a signed
// transaction from an encrypted treasury key. Per the out-of-scope note in
// the data model, this package assumes an interface a production
// deployment plugs an HSM/KMS-backed implementation into; the
// implementations here are a self-contained, software-only reference that
// keeps the rest of the system (deposit pipeline, payout executor)
// decoupled from key-custody details.
package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// TxEnvelope is the chain-agnostic shape the payout executor builds before
// handing it to a Signer; Signer is responsible for chain-specific
// encoding and signature application.
type TxEnvelope struct {
	Nonce    uint64
	To       string
	ValueWei *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
}

// HDSigner derives deterministic deposit addresses for a chain without
// exposing the underlying seed to callers.
type HDSigner interface {
	// DeriveAddress returns the address and derivation path for the given
	// chain slug and index, following m/44'/60'/0'/0/index for EVM chains.
	DeriveAddress(ctx context.Context, chainSlug string, index int64) (address string, path string, err error)
}

// TreasurySigner signs an outbound payout transaction using the decrypted
// key material for a given treasury wallet, never returning the key
// itself.
type TreasurySigner interface {
	Sign(ctx context.Context, chainID *big.Int, encryptedPrivateKey []byte, tx TxEnvelope) (*types.Transaction, error)
}
