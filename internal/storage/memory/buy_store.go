package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage"
)

// BuyStore is an in-memory implementation of storage.BuyStore.
type BuyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Buy // keyed by buy id
}

// NewBuyStore creates a new in-memory buy store.
func NewBuyStore() *BuyStore {
	return &BuyStore{
		data: make(map[string]*domain.Buy),
	}
}

// Compile-time interface check.
var _ storage.BuyStore = (*BuyStore)(nil)

// Insert adds a buy record. Returns ErrDuplicateKey if the id exists.
func (s *BuyStore) Insert(_ context.Context, b *domain.Buy) error {
	if b == nil || b.ID == "" || b.CampaignID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *b
	if b.TokensReceived != nil {
		cp.TokensReceived = new(big.Int).Set(b.TokensReceived)
	}
	s.data[b.ID] = &cp
	return nil
}

// GetByCampaignID retrieves all buys for a campaign, oldest first.
func (s *BuyStore) GetByCampaignID(_ context.Context, campaignID string) ([]*domain.Buy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Buy
	for _, b := range s.data {
		if b.CampaignID != campaignID {
			continue
		}
		cp := *b
		if b.TokensReceived != nil {
			cp.TokensReceived = new(big.Int).Set(b.TokensReceived)
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

// SumTokensReceived sums tokens over successful buys as a big integer.
func (s *BuyStore) SumTokensReceived(_ context.Context, campaignID string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := new(big.Int)
	for _, b := range s.data {
		if b.CampaignID != campaignID || b.Status != domain.BuySuccess {
			continue
		}
		if b.TokensReceived != nil {
			total.Add(total, b.TokensReceived)
		}
	}
	return total, nil
}

// SetTransferSignature backfills the delivery signature on a buy.
func (s *BuyStore) SetTransferSignature(_ context.Context, buyID, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.data[buyID]
	if !ok {
		return storage.ErrNotFound
	}
	b.TransferSignature = signature
	return nil
}
