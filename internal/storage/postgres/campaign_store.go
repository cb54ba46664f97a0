package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage"
)

// CampaignStore implements storage.CampaignStore using PostgreSQL.
type CampaignStore struct {
	pool *Pool
}

// NewCampaignStore creates a new CampaignStore.
func NewCampaignStore(pool *Pool) *CampaignStore {
	return &CampaignStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CampaignStore = (*CampaignStore)(nil)

const campaignColumns = `
	id, owner_id, token_mint, destination_wallet, deposit_address, deposit_private_key,
	total_deposit_usd, number_of_buys, interval_minutes, per_buy_usd, total_fees_usd,
	expected_lamports, actual_lamports, deposit_signature,
	buys_completed, status, is_processing, next_buy_at, dust_swept,
	created_at, updated_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.TokenMint, &c.DestinationWallet, &c.DepositAddress, &c.DepositPrivateKey,
		&c.TotalDepositUSD, &c.NumberOfBuys, &c.IntervalMinutes, &c.PerBuyUSD, &c.TotalFeesUSD,
		&c.ExpectedLamports, &c.ActualLamports, &c.DepositSignature,
		&c.BuysCompleted, &c.Status, &c.IsProcessing, &c.NextBuyAt, &c.DustSwept,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert adds a new campaign. Returns ErrDuplicateKey if the id exists.
func (s *CampaignStore) Insert(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (
			id, owner_id, token_mint, destination_wallet, deposit_address, deposit_private_key,
			total_deposit_usd, number_of_buys, interval_minutes, per_buy_usd, total_fees_usd,
			expected_lamports, actual_lamports, deposit_signature,
			buys_completed, status, is_processing, next_buy_at, dust_swept,
			created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22
		)
	`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.OwnerID, c.TokenMint, c.DestinationWallet, c.DepositAddress, c.DepositPrivateKey,
		c.TotalDepositUSD, c.NumberOfBuys, c.IntervalMinutes, c.PerBuyUSD, c.TotalFeesUSD,
		c.ExpectedLamports, c.ActualLamports, c.DepositSignature,
		c.BuysCompleted, c.Status, c.IsProcessing, c.NextBuyAt, c.DustSwept,
		c.CreatedAt, c.UpdatedAt, c.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by its ID. Returns ErrNotFound if not exists.
func (s *CampaignStore) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign by id: %w", err)
	}
	return c, nil
}

// HasOpenCampaign reports whether the owner has a campaign awaiting deposit or active.
func (s *CampaignStore) HasOpenCampaign(ctx context.Context, ownerID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM campaigns
			WHERE owner_id = $1 AND status IN ('awaiting_deposit', 'active')
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check open campaign: %w", err)
	}
	return exists, nil
}

// AwaitingDeposit retrieves campaigns waiting to be funded, oldest first.
func (s *CampaignStore) AwaitingDeposit(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	query := `
		SELECT` + campaignColumns + `
		FROM campaigns
		WHERE status = 'awaiting_deposit'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query awaiting campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan awaiting campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DueForBuy retrieves active, due, unlocked campaigns ordered by next_buy_at.
func (s *CampaignStore) DueForBuy(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	query := `
		SELECT` + campaignColumns + `
		FROM campaigns
		WHERE status = 'active'
		  AND is_processing = FALSE
		  AND next_buy_at IS NOT NULL
		  AND next_buy_at <= $1
		ORDER BY next_buy_at ASC
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AcquireProcessing atomically flips is_processing false→true.
// The conditional update makes the lock race-free across workers.
func (s *CampaignStore) AcquireProcessing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE campaigns
		SET is_processing = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_processing = FALSE
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("acquire processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseProcessing clears is_processing unconditionally.
func (s *CampaignStore) ReleaseProcessing(ctx context.Context, id string) error {
	query := `UPDATE campaigns SET is_processing = FALSE, updated_at = NOW() WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release processing: %w", err)
	}
	return nil
}

// MarkDeposited activates a funded campaign.
func (s *CampaignStore) MarkDeposited(ctx context.Context, id string, lamports uint64, signature string, nextBuyAt time.Time) error {
	query := `
		UPDATE campaigns
		SET status = 'active',
		    actual_lamports = $1,
		    deposit_signature = $2,
		    next_buy_at = $3,
		    updated_at = NOW()
		WHERE id = $4
	`

	tag, err := s.pool.Exec(ctx, query, lamports, signature, nextBuyAt, id)
	if err != nil {
		return fmt.Errorf("mark deposited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ScheduleNextBuy sets next_buy_at.
func (s *CampaignStore) ScheduleNextBuy(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE campaigns SET next_buy_at = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("schedule next buy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the campaign status.
func (s *CampaignStore) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementProgress atomically advances progress and transitions status.
// A single conditional UPDATE guarantees buys_completed is monotone and
// capped at number_of_buys even under concurrent callers.
func (s *CampaignStore) IncrementProgress(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `
		UPDATE campaigns
		SET buys_completed = LEAST(buys_completed + 1, number_of_buys),
		    status = CASE WHEN buys_completed + 1 >= number_of_buys THEN 'completed' ELSE 'active' END,
		    completed_at = CASE WHEN buys_completed + 1 >= number_of_buys AND completed_at IS NULL THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING` + campaignColumns + `
	`

	c, err := scanCampaign(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("increment progress: %w", err)
	}
	return c, nil
}

// SweepCandidates retrieves completed campaigns not yet dust-swept.
func (s *CampaignStore) SweepCandidates(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	query := `
		SELECT` + campaignColumns + `
		FROM campaigns
		WHERE status = 'completed' AND dust_swept = FALSE
		ORDER BY completed_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweep candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sweep candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSwept flags a campaign as dust-swept.
func (s *CampaignStore) MarkSwept(ctx context.Context, id string) error {
	query := `UPDATE campaigns SET dust_swept = TRUE, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
