package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign represents one token-accumulation plan: a single upfront
// deposit funding NumberOfBuys scheduled purchases of TokenMint.
// Corresponds to the campaigns table in PostgreSQL.
//
// Fiat amounts are fixed-point decimals; on-chain native amounts are
// lamports (uint64). Token quantities never appear here, they live on
// Buy records as arbitrary-precision integers.
type Campaign struct {
	ID                string         // PRIMARY KEY, ULID
	OwnerID           int64          // owner identifier (messaging chat id)
	TokenMint         string         // target token mint address
	DestinationWallet string         // where tokens and residual SOL are delivered
	DepositAddress    string         // dedicated deposit wallet address; empty in legacy shared-wallet mode
	DepositPrivateKey string         // base58-encoded 64-byte ed25519 secret; empty in shared-wallet mode
	TotalDepositUSD   decimal.Decimal
	NumberOfBuys      int
	IntervalMinutes   int
	PerBuyUSD         decimal.Decimal
	TotalFeesUSD      decimal.Decimal
	ExpectedLamports  uint64 // expected deposit incl. the dust suffix
	ActualLamports    uint64 // deposit amount actually observed
	DepositSignature  string // transaction that funded the campaign (or an activation marker)
	BuysCompleted     int
	Status            CampaignStatus
	IsProcessing      bool // advisory lock, set/cleared via compare-and-set on the store
	NextBuyAt         *time.Time
	DustSwept         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// HasDedicatedWallet reports whether the campaign owns its own deposit
// keypair, as opposed to riding on the shared operator wallet.
func (c *Campaign) HasDedicatedWallet() bool {
	return c.DepositPrivateKey != ""
}

// RemainingBuys returns the number of scheduled purchases not yet made.
func (c *Campaign) RemainingBuys() int {
	n := c.NumberOfBuys - c.BuysCompleted
	if n < 0 {
		return 0
	}
	return n
}

// NextBuyIsFinal reports whether the next purchase would be the last one.
func (c *Campaign) NextBuyIsFinal() bool {
	return c.BuysCompleted+1 >= c.NumberOfBuys
}
