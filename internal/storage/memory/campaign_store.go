package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage"
)

// CampaignStore is an in-memory implementation of storage.CampaignStore.
type CampaignStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Campaign // keyed by campaign id
}

// NewCampaignStore creates a new in-memory campaign store.
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{
		data: make(map[string]*domain.Campaign),
	}
}

// Compile-time interface check.
var _ storage.CampaignStore = (*CampaignStore)(nil)

// Insert adds a new campaign. Returns ErrDuplicateKey if the id exists.
func (s *CampaignStore) Insert(_ context.Context, c *domain.Campaign) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *c
	s.data[c.ID] = &cp
	return nil
}

// GetByID retrieves a campaign by its ID.
func (s *CampaignStore) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// HasOpenCampaign reports whether the owner has a non-terminal, non-paused campaign.
func (s *CampaignStore) HasOpenCampaign(_ context.Context, ownerID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data {
		if c.OwnerID == ownerID &&
			(c.Status == domain.StatusAwaitingDeposit || c.Status == domain.StatusActive) {
			return true, nil
		}
	}
	return false, nil
}

// AwaitingDeposit retrieves campaigns waiting to be funded, oldest first.
func (s *CampaignStore) AwaitingDeposit(_ context.Context, limit int) ([]*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Campaign
	for _, c := range s.data {
		if c.Status == domain.StatusAwaitingDeposit {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DueForBuy retrieves active, due, unlocked campaigns ordered by next_buy_at.
func (s *CampaignStore) DueForBuy(_ context.Context, now time.Time) ([]*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Campaign
	for _, c := range s.data {
		if c.Status != domain.StatusActive || c.IsProcessing {
			continue
		}
		if c.NextBuyAt == nil || c.NextBuyAt.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextBuyAt.Before(*out[j].NextBuyAt) })
	return out, nil
}

// AcquireProcessing atomically flips is_processing false→true.
func (s *CampaignStore) AcquireProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if c.IsProcessing {
		return false, nil
	}
	c.IsProcessing = true
	c.UpdatedAt = time.Now()
	return true, nil
}

// ReleaseProcessing clears is_processing unconditionally.
func (s *CampaignStore) ReleaseProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.IsProcessing = false
	c.UpdatedAt = time.Now()
	return nil
}

// MarkDeposited activates a funded campaign.
func (s *CampaignStore) MarkDeposited(_ context.Context, id string, lamports uint64, signature string, nextBuyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = domain.StatusActive
	c.ActualLamports = lamports
	c.DepositSignature = signature
	at := nextBuyAt
	c.NextBuyAt = &at
	c.UpdatedAt = time.Now()
	return nil
}

// ScheduleNextBuy sets next_buy_at.
func (s *CampaignStore) ScheduleNextBuy(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	c.NextBuyAt = &t
	c.UpdatedAt = time.Now()
	return nil
}

// UpdateStatus sets the campaign status.
func (s *CampaignStore) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// IncrementProgress atomically advances progress and transitions status.
func (s *CampaignStore) IncrementProgress(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	if c.BuysCompleted < c.NumberOfBuys {
		c.BuysCompleted++
	}
	now := time.Now()
	if c.BuysCompleted >= c.NumberOfBuys {
		c.Status = domain.StatusCompleted
		if c.CompletedAt == nil {
			t := now
			c.CompletedAt = &t
		}
	} else {
		c.Status = domain.StatusActive
	}
	c.UpdatedAt = now

	cp := *c
	return &cp, nil
}

// SweepCandidates retrieves completed campaigns not yet dust-swept.
func (s *CampaignStore) SweepCandidates(_ context.Context, limit int) ([]*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Campaign
	for _, c := range s.data {
		if c.Status == domain.StatusCompleted && !c.DustSwept {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSwept flags a campaign as dust-swept.
func (s *CampaignStore) MarkSwept(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.DustSwept = true
	c.UpdatedAt = time.Now()
	return nil
}
