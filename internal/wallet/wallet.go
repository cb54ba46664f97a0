// Package wallet handles campaign deposit keypairs: generation, base58
// decoding of stored secrets, and address validation.
package wallet

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Errors returned by key and address parsing.
var (
	ErrBadKeyLength = errors.New("private key must decode to 64 bytes")
	ErrBadKeyCurve  = errors.New("private key public half is not on the ed25519 curve")
	ErrBadAddress   = errors.New("invalid address")
)

// Keypair wraps an ed25519 keypair used to sign campaign transactions.
type Keypair struct {
	priv solanago.PrivateKey
}

// Generate creates a fresh random keypair for a new campaign wallet.
func Generate() (*Keypair, error) {
	priv, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// DecodeBase58 parses a base58-encoded 64-byte ed25519 secret key.
func DecodeBase58(encoded string) (*Keypair, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 64 {
		return nil, ErrBadKeyLength
	}
	if !isOnCurve(raw[32:]) {
		return nil, ErrBadKeyCurve
	}
	return &Keypair{priv: solanago.PrivateKey(raw)}, nil
}

// Address returns the base58 public address.
func (k *Keypair) Address() string {
	return k.priv.PublicKey().String()
}

// PublicKey returns the public key.
func (k *Keypair) PublicKey() solanago.PublicKey {
	return k.priv.PublicKey()
}

// PrivateKey returns the raw private key for signing.
func (k *Keypair) PrivateKey() solanago.PrivateKey {
	return k.priv
}

// ExportBase58 returns the base58-encoded 64-byte secret for storage.
func (k *Keypair) ExportBase58() string {
	return base58.Encode(k.priv)
}

// ValidateAddress checks that an address is base58, 32 bytes and a valid
// curve point. Destination wallets are user input and must be checked
// before any transfer is built against them.
func ValidateAddress(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: decoded to %d bytes", ErrBadAddress, len(raw))
	}
	if !isOnCurve(raw) {
		return fmt.Errorf("%w: not on curve", ErrBadAddress)
	}
	return nil
}

// ValidateMint checks that a mint address is base58 and 32 bytes. Mints
// are frequently program-derived and therefore off-curve, so no curve
// check applies.
func ValidateMint(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: decoded to %d bytes", ErrBadAddress, len(raw))
	}
	return nil
}

// isOnCurve reports whether a 32-byte value is a valid ed25519 point.
func isOnCurve(point []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
