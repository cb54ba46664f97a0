package postgres

import (
	"context"
	"fmt"
	"math/big"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage"
)

// BuyStore implements storage.BuyStore using PostgreSQL.
//
// tokens_received is NUMERIC(78,0) and crosses the wire as a decimal
// string so amounts never touch floating point.
type BuyStore struct {
	pool *Pool
}

// NewBuyStore creates a new BuyStore.
func NewBuyStore(pool *Pool) *BuyStore {
	return &BuyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BuyStore = (*BuyStore)(nil)

// Insert adds a buy record. Returns ErrDuplicateKey if the id exists.
func (s *BuyStore) Insert(ctx context.Context, b *domain.Buy) error {
	query := `
		INSERT INTO buys (
			id, campaign_id, swap_signature, transfer_signature,
			amount_usd, amount_lamports, tokens_received, fee_lamports,
			status, error_message, executed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7::numeric, $8,
			$9, $10, $11
		)
	`

	var tokens *string
	if b.TokensReceived != nil {
		str := b.TokensReceived.String()
		tokens = &str
	}

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.CampaignID, b.SwapSignature, b.TransferSignature,
		b.AmountUSD, b.AmountLamports, tokens, b.FeeLamports,
		b.Status, b.ErrorMessage, b.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert buy: %w", err)
	}
	return nil
}

// GetByCampaignID retrieves all buys for a campaign, oldest first.
func (s *BuyStore) GetByCampaignID(ctx context.Context, campaignID string) ([]*domain.Buy, error) {
	query := `
		SELECT id, campaign_id, swap_signature, transfer_signature,
		       amount_usd, amount_lamports, tokens_received::text, fee_lamports,
		       status, error_message, executed_at
		FROM buys
		WHERE campaign_id = $1
		ORDER BY executed_at ASC
	`

	rows, err := s.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query buys: %w", err)
	}
	defer rows.Close()

	var out []*domain.Buy
	for rows.Next() {
		var b domain.Buy
		var tokens *string
		err := rows.Scan(
			&b.ID, &b.CampaignID, &b.SwapSignature, &b.TransferSignature,
			&b.AmountUSD, &b.AmountLamports, &tokens, &b.FeeLamports,
			&b.Status, &b.ErrorMessage, &b.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan buy: %w", err)
		}
		if tokens != nil {
			v, ok := new(big.Int).SetString(*tokens, 10)
			if !ok {
				return nil, fmt.Errorf("parse tokens_received %q for buy %s", *tokens, b.ID)
			}
			b.TokensReceived = v
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// SumTokensReceived sums tokens over successful buys as a big integer.
func (s *BuyStore) SumTokensReceived(ctx context.Context, campaignID string) (*big.Int, error) {
	query := `
		SELECT COALESCE(SUM(tokens_received), 0)::text
		FROM buys
		WHERE campaign_id = $1 AND status = 'success'
	`

	var sum string
	if err := s.pool.QueryRow(ctx, query, campaignID).Scan(&sum); err != nil {
		return nil, fmt.Errorf("sum tokens received: %w", err)
	}

	total, ok := new(big.Int).SetString(sum, 10)
	if !ok {
		return nil, fmt.Errorf("parse token sum %q", sum)
	}
	return total, nil
}

// SetTransferSignature backfills the delivery signature on a buy.
func (s *BuyStore) SetTransferSignature(ctx context.Context, buyID, signature string) error {
	query := `UPDATE buys SET transfer_signature = $1 WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, signature, buyID)
	if err != nil {
		return fmt.Errorf("set transfer signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
