// Package engine drives campaign execution: deposit detection and
// matching, the per-minute buy scheduler, the per-campaign buy state
// machine and the daily dust sweep.
package engine

import (
	"context"
	"math/big"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/storage"
	"solana-dca-engine/internal/swap"
	"solana-dca-engine/internal/wallet"
)

const lamportsPerSOL = 1_000_000_000

// ChainClient is the subset of chain RPC the engine needs. Satisfied by
// solana.RPCClient.
type ChainClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error)
	GetBalanceDelta(ctx context.Context, signature, address string) (int64, bool, error)
}

// SwapGateway prices and executes native-to-token swaps.
type SwapGateway interface {
	GetQuote(ctx context.Context, outputMint string, lamports uint64) (*swap.Quote, error)
	Execute(ctx context.Context, quote *swap.Quote, signer *wallet.Keypair) (string, error)
}

// TokenMover moves tokens and native balance out of campaign wallets.
type TokenMover interface {
	TokenBalance(ctx context.Context, mint string, owner solanago.PublicKey) (*big.Int, error)
	EnsureTokenAccount(ctx context.Context, mint string, owner solanago.PublicKey, payer *wallet.Keypair) error
	TransferToken(ctx context.Context, mint string, amount *big.Int, from *wallet.Keypair, to string) (string, error)
	TransferNative(ctx context.Context, lamports uint64, from *wallet.Keypair, to string) (string, error)
}

// PriceOracle quotes the native asset's fiat spot price.
type PriceOracle interface {
	SpotPrice(ctx context.Context) (decimal.Decimal, error)
}

// Config carries the engine's tuned constants. Defaults reproduce the
// production values; all are configurable rather than baked in.
type Config struct {
	// GasBufferLamports is held back from every funding check to cover
	// swap fees, the protocol fee and the eventual delivery transfers.
	GasBufferLamports uint64
	// ProtocolFeeLamports is collected per buy, best effort.
	ProtocolFeeLamports uint64
	// MinTradeLamports is the smallest swap worth submitting when the
	// final buy shrinks to the remaining balance.
	MinTradeLamports uint64
	// RecoveryGasLamports is the minimum native balance required before
	// stuck tokens are transferred out.
	RecoveryGasLamports uint64
	// SweepThresholdLamports gates the post-delivery native sweep.
	SweepThresholdLamports uint64
	// SweepReserveLamports is left behind by the post-delivery sweep.
	SweepReserveLamports uint64
	// RefundReserveLamports covers the refund transaction's own fee.
	RefundReserveLamports uint64
	// MatchToleranceLamports bounds shared-wallet deposit matching.
	MatchToleranceLamports uint64
	// ActivationRatio of the expected deposit at which a dedicated
	// wallet activates; loose to support pre-funding and manual top-ups.
	ActivationRatio float64
	// FailureBackoff delays the retry after a failed buy. Constant, not
	// exponential, to keep retry latency predictable.
	FailureBackoff time.Duration
	// FeeWallet receives protocol fees and dust sweeps.
	FeeWallet string
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		GasBufferLamports:      12_000_000, // 0.012 SOL
		ProtocolFeeLamports:    1_000_000,  // 0.001 SOL
		MinTradeLamports:       3_000_000,  // 0.003 SOL
		RecoveryGasLamports:    1_000_000,  // 0.001 SOL
		SweepThresholdLamports: 3_000_000,  // 0.003 SOL
		SweepReserveLamports:   1_000_000,  // 0.001 SOL
		RefundReserveLamports:  5_000,
		MatchToleranceLamports: 5_000, // 0.000005 SOL
		ActivationRatio:        0.5,
		FailureBackoff:         5 * time.Minute,
		FeeWallet:              "",
	}
}

// recordEvent appends to the execution event log, best effort.
func recordEvent(ctx context.Context, events storage.ExecutionEventStore, logger *zap.Logger, e *storage.ExecutionEvent) {
	if events == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Tokens == "" {
		e.Tokens = "0"
	}
	if err := events.Insert(ctx, e); err != nil {
		logger.Warn("event log insert failed",
			zap.String("campaign_id", e.CampaignID),
			zap.String("kind", e.Kind),
			zap.Error(err))
	}
}
