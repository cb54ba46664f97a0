package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Buy represents one executed purchase cycle within a campaign.
// Corresponds to the buys table in PostgreSQL.
type Buy struct {
	ID                string // PRIMARY KEY, ULID
	CampaignID        string
	SwapSignature     string          // empty for buys that failed before the swap
	TransferSignature string          // set after final delivery, empty otherwise
	AmountUSD         decimal.Decimal // attempted fiat amount
	AmountLamports    uint64          // native amount actually spent on the swap
	TokensReceived    *big.Int        // raw token units, arbitrary precision; nil for failed buys
	FeeLamports       uint64          // protocol fee actually collected
	Status            BuyStatus
	ErrorMessage      string
	ExecutedAt        time.Time
}

// TokensReceivedString returns the token amount as a decimal string,
// "0" when no tokens were received.
func (b *Buy) TokensReceivedString() string {
	if b.TokensReceived == nil {
		return "0"
	}
	return b.TokensReceived.String()
}
