package solana

import (
	"context"
	"errors"
	"math/big"
)

// ErrAccountNotFound is returned when a queried account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// RPCClient defines the Solana RPC HTTP interface the engine consumes.
type RPCClient interface {
	// GetBalance returns the lamport balance of an address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetAccountOwner returns the owning program id of an account.
	// Returns ErrAccountNotFound if the account does not exist.
	GetAccountOwner(ctx context.Context, address string) (string, error)

	// GetSignaturesForAddress retrieves recent signatures for an address,
	// newest first.
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error)

	// GetBalanceDelta returns the lamport balance change of address within
	// the given transaction. ok is false when the transaction failed, is
	// unknown, or does not touch the address.
	GetBalanceDelta(ctx context.Context, signature, address string) (delta int64, ok bool, err error)

	// GetTokenBalance returns the raw token amount held by a token account.
	// Returns ErrAccountNotFound if the token account does not exist.
	GetTokenBalance(ctx context.Context, tokenAccount string) (*big.Int, error)

	// GetLatestBlockhash returns a recent blockhash usable for a new transaction.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// SendTransaction submits a base64-encoded signed transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// ConfirmTransaction blocks until the signature reaches confirmed
	// commitment or the context expires. A transaction that landed with an
	// on-chain error is returned as an error.
	ConfirmTransaction(ctx context.Context, signature string) error
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// Failed reports whether the transaction recorded an on-chain error.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}
