package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage"
)

func newBuy(id, campaignID string, tokens *big.Int, status domain.BuyStatus, at time.Time) *domain.Buy {
	return &domain.Buy{
		ID:             id,
		CampaignID:     campaignID,
		SwapSignature:  "swap-" + id,
		AmountUSD:      decimal.RequireFromString("19.55"),
		AmountLamports: 97_750_000,
		TokensReceived: tokens,
		FeeLamports:    1_000_000,
		Status:         status,
		ExecutedAt:     at,
	}
}

func TestBuyStore_InsertAndGetByCampaignID(t *testing.T) {
	store := NewBuyStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Insert(ctx, newBuy("buy-2", "camp-1", big.NewInt(200), domain.BuySuccess, now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, newBuy("buy-1", "camp-1", big.NewInt(100), domain.BuySuccess, now.Add(-time.Hour))); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, newBuy("buy-3", "camp-2", big.NewInt(300), domain.BuySuccess, now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByCampaignID(ctx, "camp-1")
	if err != nil {
		t.Fatalf("GetByCampaignID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 buys, got %d", len(got))
	}
	// Oldest first.
	if got[0].ID != "buy-1" || got[1].ID != "buy-2" {
		t.Errorf("Wrong order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestBuyStore_InsertValidation(t *testing.T) {
	store := NewBuyStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil buy: expected ErrInvalidInput, got %v", err)
	}
	if err := store.Insert(ctx, &domain.Buy{ID: "x"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing campaign: expected ErrInvalidInput, got %v", err)
	}

	b := newBuy("buy-1", "camp-1", nil, domain.BuyFailed, time.Now())
	if err := store.Insert(ctx, b); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, b); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestBuyStore_SumTokensReceived(t *testing.T) {
	store := NewBuyStore()
	ctx := context.Background()
	now := time.Now().UTC()

	huge, _ := new(big.Int).SetString("98765432109876543210987654321", 10)

	if err := store.Insert(ctx, newBuy("buy-1", "camp-1", big.NewInt(1_000), domain.BuySuccess, now)); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, newBuy("buy-2", "camp-1", huge, domain.BuySuccess, now)); err != nil {
		t.Fatal(err)
	}
	// Failed buys never count.
	if err := store.Insert(ctx, newBuy("buy-3", "camp-1", big.NewInt(500), domain.BuyFailed, now)); err != nil {
		t.Fatal(err)
	}
	// Other campaigns never count.
	if err := store.Insert(ctx, newBuy("buy-4", "camp-2", big.NewInt(777), domain.BuySuccess, now)); err != nil {
		t.Fatal(err)
	}

	sum, err := store.SumTokensReceived(ctx, "camp-1")
	if err != nil {
		t.Fatalf("SumTokensReceived failed: %v", err)
	}
	want := new(big.Int).Add(huge, big.NewInt(1_000))
	if sum.Cmp(want) != 0 {
		t.Errorf("Sum: got %s, want %s", sum, want)
	}

	empty, err := store.SumTokensReceived(ctx, "camp-none")
	if err != nil {
		t.Fatalf("SumTokensReceived failed: %v", err)
	}
	if empty.Sign() != 0 {
		t.Errorf("Empty campaign sum: got %s, want 0", empty)
	}
}

func TestBuyStore_TokensAreCopied(t *testing.T) {
	store := NewBuyStore()
	ctx := context.Background()

	tokens := big.NewInt(1_000)
	if err := store.Insert(ctx, newBuy("buy-1", "camp-1", tokens, domain.BuySuccess, time.Now())); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's big.Int must not reach the store.
	tokens.SetInt64(999_999)

	sum, _ := store.SumTokensReceived(ctx, "camp-1")
	if sum.Int64() != 1_000 {
		t.Errorf("Stored tokens aliased caller value: got %s", sum)
	}

	got, _ := store.GetByCampaignID(ctx, "camp-1")
	got[0].TokensReceived.SetInt64(5)

	sum, _ = store.SumTokensReceived(ctx, "camp-1")
	if sum.Int64() != 1_000 {
		t.Errorf("Returned tokens aliased stored value: got %s", sum)
	}
}

func TestBuyStore_SetTransferSignature(t *testing.T) {
	store := NewBuyStore()
	ctx := context.Background()

	if err := store.Insert(ctx, newBuy("buy-1", "camp-1", big.NewInt(1), domain.BuySuccess, time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := store.SetTransferSignature(ctx, "buy-1", "delivery-sig"); err != nil {
		t.Fatalf("SetTransferSignature failed: %v", err)
	}

	got, _ := store.GetByCampaignID(ctx, "camp-1")
	if got[0].TransferSignature != "delivery-sig" {
		t.Errorf("TransferSignature: got %q", got[0].TransferSignature)
	}

	if err := store.SetTransferSignature(ctx, "missing", "sig"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
