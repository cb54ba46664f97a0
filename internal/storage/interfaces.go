package storage

import (
	"context"
	"math/big"
	"time"

	"solana-dca-engine/internal/domain"
)

// CampaignStore provides access to campaign storage.
type CampaignStore interface {
	// Insert adds a new campaign. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, c *domain.Campaign) error

	// GetByID retrieves a campaign by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)

	// HasOpenCampaign reports whether the owner already has a campaign in
	// awaiting_deposit or active state.
	HasOpenCampaign(ctx context.Context, ownerID int64) (bool, error)

	// AwaitingDeposit retrieves campaigns waiting to be funded, oldest first.
	AwaitingDeposit(ctx context.Context, limit int) ([]*domain.Campaign, error)

	// DueForBuy retrieves active campaigns whose next_buy_at is at or before
	// now and whose processing flag is clear, ordered by next_buy_at.
	DueForBuy(ctx context.Context, now time.Time) ([]*domain.Campaign, error)

	// AcquireProcessing atomically flips is_processing false→true.
	// Returns false when the flag was already set (another cycle in flight).
	AcquireProcessing(ctx context.Context, id string) (bool, error)

	// ReleaseProcessing clears is_processing unconditionally.
	ReleaseProcessing(ctx context.Context, id string) error

	// MarkDeposited activates a funded campaign: status→active, records the
	// observed deposit and its signature, and schedules the first buy.
	MarkDeposited(ctx context.Context, id string, lamports uint64, signature string, nextBuyAt time.Time) error

	// ScheduleNextBuy sets next_buy_at.
	ScheduleNextBuy(ctx context.Context, id string, at time.Time) error

	// UpdateStatus sets the campaign status.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// IncrementProgress atomically increments buys_completed by one and
	// transitions status to completed (stamping completed_at) when the
	// campaign is full, remaining active otherwise. buys_completed never
	// exceeds number_of_buys. Returns the updated campaign.
	IncrementProgress(ctx context.Context, id string) (*domain.Campaign, error)

	// SweepCandidates retrieves completed campaigns not yet dust-swept.
	SweepCandidates(ctx context.Context, limit int) ([]*domain.Campaign, error)

	// MarkSwept flags a campaign's deposit wallet as dust-swept.
	MarkSwept(ctx context.Context, id string) error
}

// BuyStore provides access to buy-record storage. Buy records are
// append-only; only the delivery transfer signature is backfilled.
type BuyStore interface {
	// Insert adds a buy record. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, b *domain.Buy) error

	// GetByCampaignID retrieves all buys for a campaign, oldest first.
	GetByCampaignID(ctx context.Context, campaignID string) ([]*domain.Buy, error)

	// SumTokensReceived sums tokens_received over successful buys for the
	// campaign as an arbitrary-precision integer.
	SumTokensReceived(ctx context.Context, campaignID string) (*big.Int, error)

	// SetTransferSignature backfills the delivery signature on a buy.
	SetTransferSignature(ctx context.Context, buyID, signature string) error
}

// ExecutionEvent is one append-only engine event for analytics.
type ExecutionEvent struct {
	Time         time.Time
	CampaignID   string
	Kind         string // deposit | buy | recovery | delivery | sweep | refund
	Signature    string
	Lamports     uint64
	Tokens       string // decimal string of raw token units, "0" when none
	ErrorMessage string
}

// ExecutionEventStore records engine events for offline reporting.
type ExecutionEventStore interface {
	// Insert appends an event.
	Insert(ctx context.Context, e *ExecutionEvent) error

	// ByCampaign retrieves events for a campaign, oldest first.
	ByCampaign(ctx context.Context, campaignID string) ([]*ExecutionEvent, error)

	// CountByKind returns event counts grouped by kind.
	CountByKind(ctx context.Context) (map[string]uint64, error)
}
