package memory

import (
	"context"
	"sort"
	"sync"

	"solana-dca-engine/internal/storage"
)

// ExecutionEventStore is an in-memory implementation of
// storage.ExecutionEventStore.
type ExecutionEventStore struct {
	mu     sync.RWMutex
	events []*storage.ExecutionEvent
}

// NewExecutionEventStore creates a new in-memory event store.
func NewExecutionEventStore() *ExecutionEventStore {
	return &ExecutionEventStore{}
}

// Compile-time interface check.
var _ storage.ExecutionEventStore = (*ExecutionEventStore)(nil)

// Insert appends an event.
func (s *ExecutionEventStore) Insert(_ context.Context, e *storage.ExecutionEvent) error {
	if e == nil || e.CampaignID == "" || e.Kind == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ByCampaign retrieves events for a campaign, oldest first.
func (s *ExecutionEventStore) ByCampaign(_ context.Context, campaignID string) ([]*storage.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.ExecutionEvent
	for _, e := range s.events {
		if e.CampaignID == campaignID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// CountByKind returns event counts grouped by kind.
func (s *ExecutionEventStore) CountByKind(_ context.Context) (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]uint64)
	for _, e := range s.events {
		counts[e.Kind]++
	}
	return counts, nil
}
