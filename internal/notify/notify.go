// Package notify delivers campaign lifecycle notifications to owners.
// Delivery is best effort: a failed notification is logged and never
// propagates into the execution path.
package notify

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"solana-dca-engine/internal/domain"
)

// BuyReport summarizes a completed buy for notification purposes.
type BuyReport struct {
	BuyNumber      int
	TotalBuys      int
	SpentUSD       decimal.Decimal
	TokensReceived *big.Int
	TotalPooled    *big.Int
	SwapSignature  string
	IsFinal        bool
}

// Notifier receives campaign lifecycle events.
type Notifier interface {
	DepositDetected(ctx context.Context, c *domain.Campaign, lamports uint64, signature string)
	BuyCompleted(ctx context.Context, c *domain.Campaign, report BuyReport)
	BuyFailed(ctx context.Context, c *domain.Campaign, buyNumber int, cause error)
	InsufficientFunds(ctx context.Context, c *domain.Campaign, balanceLamports, requiredLamports uint64)
	CampaignCompleted(ctx context.Context, c *domain.Campaign)
	CampaignCancelled(ctx context.Context, c *domain.Campaign, refundSignature string)
}
