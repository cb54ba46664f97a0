package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage/memory"
	"solana-dca-engine/internal/wallet"
)

func completedCampaign(t *testing.T, id string, dedicated bool) (*domain.Campaign, *wallet.Keypair) {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:                id,
		OwnerID:           1,
		TokenMint:         "So11111111111111111111111111111111111111112",
		DestinationWallet: "Dest11111111111111111111111111111111111111",
		DepositAddress:    sharedAddr,
		NumberOfBuys:      3,
		BuysCompleted:     3,
		IntervalMinutes:   60,
		Status:            domain.StatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
		CompletedAt:       &now,
	}
	var kp *wallet.Keypair
	if dedicated {
		var err error
		kp, err = wallet.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		c.DepositAddress = kp.Address()
		c.DepositPrivateKey = kp.ExportBase58()
	}
	return c, kp
}

func newSweeperHarness(t *testing.T, campaigns ...*domain.Campaign) (*Sweeper, *fakeChain, *fakeMover, *memory.CampaignStore) {
	t.Helper()
	store := memory.NewCampaignStore()
	for _, c := range campaigns {
		if err := store.Insert(context.Background(), c); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	cfg := DefaultConfig()
	cfg.FeeWallet = "FeeWallet111111111111111111111111111111111"
	chain := newFakeChain()
	mover := newFakeMover()
	s := NewSweeper(cfg, chain, mover, store, memory.NewExecutionEventStore(), nil, zap.NewNop())
	return s, chain, mover, store
}

func TestSweeperDrainsDedicatedWallet(t *testing.T) {
	c, kp := completedCampaign(t, "campaign-a", true)
	s, chain, mover, store := newSweeperHarness(t, c)
	chain.balances[kp.Address()] = 2_000_000

	s.Run(context.Background())

	if len(mover.nativeTransfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(mover.nativeTransfers))
	}
	got := mover.nativeTransfers[0]
	if got.lamports != 2_000_000-5_000 {
		t.Errorf("swept = %d lamports, want 1995000", got.lamports)
	}
	if got.to != s.cfg.FeeWallet {
		t.Errorf("swept to %s, want fee wallet", got.to)
	}

	stored, err := store.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.DustSwept {
		t.Error("campaign not marked swept")
	}
}

func TestSweeperMarksEmptyWalletWithoutTransacting(t *testing.T) {
	c, kp := completedCampaign(t, "campaign-a", true)
	s, chain, mover, store := newSweeperHarness(t, c)
	chain.balances[kp.Address()] = 4_000 // at or below the fee reserve

	s.Run(context.Background())

	if len(mover.nativeTransfers) != 0 {
		t.Error("empty wallet must not be transacted against")
	}
	stored, err := store.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.DustSwept {
		t.Error("empty wallet should still be marked swept")
	}
}

func TestSweeperNeverTouchesSharedWallet(t *testing.T) {
	c, _ := completedCampaign(t, "campaign-a", false)
	s, chain, mover, store := newSweeperHarness(t, c)
	chain.balances[sharedAddr] = 10_000_000_000

	s.Run(context.Background())

	if len(mover.nativeTransfers) != 0 {
		t.Fatal("operator wallet was drained by the sweeper")
	}
	stored, err := store.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.DustSwept {
		t.Error("shared-wallet campaign should be marked swept so it is not revisited")
	}
}
