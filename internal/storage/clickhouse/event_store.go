package clickhouse

import (
	"context"
	"fmt"

	"solana-dca-engine/internal/storage"
)

// ExecutionEventStore implements storage.ExecutionEventStore using ClickHouse.
// The table is append-only; MergeTree does not enforce uniqueness and the
// engine never needs it.
type ExecutionEventStore struct {
	conn *Conn
}

// NewExecutionEventStore creates a new ExecutionEventStore.
func NewExecutionEventStore(conn *Conn) *ExecutionEventStore {
	return &ExecutionEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ExecutionEventStore = (*ExecutionEventStore)(nil)

// Insert appends an event.
func (s *ExecutionEventStore) Insert(ctx context.Context, e *storage.ExecutionEvent) error {
	if e == nil || e.CampaignID == "" || e.Kind == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_events
			(time, campaign_id, kind, signature, lamports, tokens, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	tokens := e.Tokens
	if tokens == "" {
		tokens = "0"
	}

	err := s.conn.Exec(ctx, query,
		e.Time, e.CampaignID, e.Kind, e.Signature, e.Lamports, tokens, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert execution event: %w", err)
	}
	return nil
}

// ByCampaign retrieves events for a campaign, oldest first.
func (s *ExecutionEventStore) ByCampaign(ctx context.Context, campaignID string) ([]*storage.ExecutionEvent, error) {
	query := `
		SELECT time, campaign_id, kind, signature, lamports, tokens, error_message
		FROM execution_events
		WHERE campaign_id = ?
		ORDER BY time ASC
	`

	rows, err := s.conn.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query execution events: %w", err)
	}
	defer rows.Close()

	var out []*storage.ExecutionEvent
	for rows.Next() {
		var e storage.ExecutionEvent
		err := rows.Scan(&e.Time, &e.CampaignID, &e.Kind, &e.Signature, &e.Lamports, &e.Tokens, &e.ErrorMessage)
		if err != nil {
			return nil, fmt.Errorf("scan execution event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountByKind returns event counts grouped by kind.
func (s *ExecutionEventStore) CountByKind(ctx context.Context) (map[string]uint64, error) {
	query := `SELECT kind, count() FROM execution_events GROUP BY kind`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count execution events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var kind string
		var n uint64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
