package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/storage/memory"
	"solana-dca-engine/internal/wallet"
)

type executorHarness struct {
	executor  *Executor
	chain     *fakeChain
	gateway   *fakeGateway
	mover     *fakeMover
	notifier  *fakeNotifier
	campaigns *memory.CampaignStore
	buys      *memory.BuyStore
	events    *memory.ExecutionEventStore

	campaign *domain.Campaign
	keypair  *wallet.Keypair
}

func newExecutorHarness(t *testing.T, cfg Config, numberOfBuys, buysCompleted int) *executorHarness {
	t.Helper()

	kp, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	dest, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fee, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if cfg.FeeWallet == "" {
		cfg.FeeWallet = fee.Address()
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		OwnerID:           1,
		TokenMint:         "So11111111111111111111111111111111111111112",
		DestinationWallet: dest.Address(),
		DepositAddress:    kp.Address(),
		DepositPrivateKey: kp.ExportBase58(),
		PerBuyUSD:         decimal.NewFromInt(10),
		NumberOfBuys:      numberOfBuys,
		IntervalMinutes:   60,
		BuysCompleted:     buysCompleted,
		Status:            domain.StatusActive,
		NextBuyAt:         &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	campaigns := memory.NewCampaignStore()
	if err := campaigns.Insert(context.Background(), campaign); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	h := &executorHarness{
		chain:     newFakeChain(),
		gateway:   &fakeGateway{tokensOut: 1000},
		mover:     newFakeMover(),
		notifier:  &fakeNotifier{},
		campaigns: campaigns,
		buys:      memory.NewBuyStore(),
		events:    memory.NewExecutionEventStore(),
		campaign:  campaign,
		keypair:   kp,
	}
	h.executor = NewExecutor(cfg,
		h.chain, h.gateway, h.mover, &fakeOracle{price: decimal.NewFromInt(200)},
		h.campaigns, h.buys, h.events, h.notifier, nil, zap.NewNop())
	return h
}

func (h *executorHarness) storedCampaign(t *testing.T) *domain.Campaign {
	t.Helper()
	c, err := h.campaigns.GetByID(context.Background(), h.campaign.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return c
}

func (h *executorHarness) storedBuys(t *testing.T) []*domain.Buy {
	t.Helper()
	buys, err := h.buys.GetByCampaignID(context.Background(), h.campaign.ID)
	if err != nil {
		t.Fatalf("GetByCampaignID: %v", err)
	}
	return buys
}

func TestExecutorSuccessfulBuy(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 0)
	h.chain.balances[h.keypair.Address()] = 100_000_000 // 0.1 SOL

	res := h.executor.Execute(context.Background(), h.campaign)

	if res.Outcome != OutcomeBought {
		t.Fatalf("outcome = %v, want OutcomeBought (err %v)", res.Outcome, res.Err)
	}
	if res.SwapSignature != "swap-sig" {
		t.Errorf("swap signature = %q", res.SwapSignature)
	}

	c := h.storedCampaign(t)
	if c.BuysCompleted != 1 {
		t.Errorf("buys_completed = %d, want 1", c.BuysCompleted)
	}
	if c.Status != domain.StatusActive {
		t.Errorf("status = %s, want active", c.Status)
	}

	buys := h.storedBuys(t)
	if len(buys) != 1 {
		t.Fatalf("buy records = %d, want 1", len(buys))
	}
	if buys[0].Status != domain.BuySuccess {
		t.Errorf("buy status = %s, want success", buys[0].Status)
	}
	// $10 at $200/SOL is 0.05 SOL.
	if buys[0].AmountLamports != 50_000_000 {
		t.Errorf("amount = %d lamports, want 50000000", buys[0].AmountLamports)
	}
	if buys[0].TokensReceived.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("tokens = %s, want 1000", buys[0].TokensReceived)
	}

	// Protocol fee collected, no delivery yet.
	if len(h.mover.nativeTransfers) != 1 {
		t.Fatalf("native transfers = %d, want 1 (fee)", len(h.mover.nativeTransfers))
	}
	if len(h.mover.tokenTransfers) != 0 {
		t.Errorf("token transfers = %d, want 0 before the final buy", len(h.mover.tokenTransfers))
	}
}

func TestExecutorFundingArithmetic(t *testing.T) {
	// per-buy $10 at $200 plus a 0.01 SOL buffer needs 0.06 SOL.
	cfg := DefaultConfig()
	cfg.GasBufferLamports = 10_000_000

	h := newExecutorHarness(t, cfg, 3, 0)
	h.chain.balances[h.keypair.Address()] = 59_999_999

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeWaiting {
		t.Fatalf("outcome = %v, want OutcomeWaiting", res.Outcome)
	}
	if h.notifier.insufficient != 1 {
		t.Errorf("insufficient-funds notifications = %d, want 1", h.notifier.insufficient)
	}
	if got := h.storedCampaign(t); got.BuysCompleted != 0 || got.Status != domain.StatusActive {
		t.Errorf("campaign changed: buys=%d status=%s", got.BuysCompleted, got.Status)
	}
	if len(h.storedBuys(t)) != 0 {
		t.Error("waiting branch must not record a buy")
	}

	// One more lamport and the buy proceeds at full size.
	h.chain.balances[h.keypair.Address()] = 60_000_000
	res = h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeBought {
		t.Fatalf("outcome = %v, want OutcomeBought (err %v)", res.Outcome, res.Err)
	}
	if h.gateway.quotedLamports[0] != 50_000_000 {
		t.Errorf("trade size = %d, want 50000000", h.gateway.quotedLamports[0])
	}
}

func TestExecutorMidCampaignExhaustionRefundsAndCancels(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 1)
	h.chain.balances[h.keypair.Address()] = 2_000_000 // far below need

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want OutcomeCancelled", res.Outcome)
	}

	c := h.storedCampaign(t)
	if c.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", c.Status)
	}
	if c.BuysCompleted != 1 {
		t.Errorf("buys_completed = %d, want unchanged 1", c.BuysCompleted)
	}
	if h.notifier.cancelled != 1 {
		t.Errorf("cancel notifications = %d, want 1", h.notifier.cancelled)
	}

	// Refund drains minus the 5000-lamport reserve, to the destination.
	if len(h.mover.nativeTransfers) != 1 {
		t.Fatalf("native transfers = %d, want 1", len(h.mover.nativeTransfers))
	}
	refund := h.mover.nativeTransfers[0]
	if refund.lamports != 2_000_000-5_000 {
		t.Errorf("refund = %d lamports, want 1995000", refund.lamports)
	}
	if refund.to != h.campaign.DestinationWallet {
		t.Errorf("refund sent to %s, want destination", refund.to)
	}
}

func TestExecutorFinalBuyShrinksTrade(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 2)
	// 0.003 SOL available above the buffer: below full size, above minimum.
	h.chain.balances[h.keypair.Address()] = DefaultConfig().GasBufferLamports + 3_000_000

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want OutcomeCompleted (err %v)", res.Outcome, res.Err)
	}
	if len(h.gateway.quotedLamports) != 1 || h.gateway.quotedLamports[0] != 3_000_000 {
		t.Fatalf("trade size = %v, want [3000000]", h.gateway.quotedLamports)
	}

	c := h.storedCampaign(t)
	if c.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", c.Status)
	}
	if c.BuysCompleted != 3 {
		t.Errorf("buys_completed = %d, want 3", c.BuysCompleted)
	}
}

func TestExecutorFinalBuySkipsSwapAndDelivers(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 2, 1)

	// A prior successful buy accumulated tokens.
	prior := &domain.Buy{
		ID:             "01ARZ3NDEKTSV4RRFFQ69G5FA0",
		CampaignID:     h.campaign.ID,
		SwapSignature:  "prior-sig",
		AmountUSD:      decimal.NewFromInt(10),
		TokensReceived: big.NewInt(700),
		Status:         domain.BuySuccess,
		ExecutedAt:     time.Now().UTC(),
	}
	if err := h.buys.Insert(context.Background(), prior); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Balance below the minimum viable trade: swap is skipped entirely.
	h.chain.balances[h.keypair.Address()] = DefaultConfig().GasBufferLamports + 1_000_000

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want OutcomeCompleted (err %v)", res.Outcome, res.Err)
	}
	if len(h.gateway.quotedLamports) != 0 {
		t.Errorf("swap was attempted with %v", h.gateway.quotedLamports)
	}

	// Delivery moves exactly the prior accumulation.
	if len(h.mover.tokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want 1", len(h.mover.tokenTransfers))
	}
	if got := h.mover.tokenTransfers[0].amount; got.Cmp(big.NewInt(700)) != 0 {
		t.Errorf("delivered = %s, want 700", got)
	}
}

func TestExecutorFailureBeforeCommit(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 0)
	h.chain.balances[h.keypair.Address()] = 100_000_000
	h.gateway.quoteErr = errBoom

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want OutcomeFailed", res.Outcome)
	}

	c := h.storedCampaign(t)
	if c.BuysCompleted != 0 {
		t.Errorf("buys_completed = %d, want 0", c.BuysCompleted)
	}
	if c.Status != domain.StatusActive {
		t.Errorf("status = %s, want active for retry", c.Status)
	}

	buys := h.storedBuys(t)
	if len(buys) != 1 {
		t.Fatalf("buy records = %d, want exactly 1 failed record", len(buys))
	}
	if buys[0].Status != domain.BuyFailed {
		t.Errorf("buy status = %s, want failed", buys[0].Status)
	}
	if buys[0].ErrorMessage == "" {
		t.Error("failed buy should carry the error text")
	}
	if h.notifier.failed != 1 {
		t.Errorf("failure notifications = %d, want 1", h.notifier.failed)
	}
}

func TestExecutorDeliverySumsAllSuccessfulBuys(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 0)
	h.chain.balances[h.keypair.Address()] = 500_000_000

	ctx := context.Background()
	var want = new(big.Int)
	for i := 0; i < 3; i++ {
		h.gateway.tokensOut = int64(1000 + i) // uneven outputs
		want.Add(want, big.NewInt(int64(1000+i)))

		c := h.storedCampaign(t)
		res := h.executor.Execute(ctx, c)
		if res.Err != nil {
			t.Fatalf("cycle %d: %v", i, res.Err)
		}
	}

	c := h.storedCampaign(t)
	if c.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}

	if len(h.mover.tokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want exactly 1 delivery", len(h.mover.tokenTransfers))
	}
	if got := h.mover.tokenTransfers[0].amount; got.Cmp(want) != 0 {
		t.Errorf("delivered = %s, want %s", got, want)
	}

	// The triggering buy carries the delivery signature.
	buys := h.storedBuys(t)
	var backfilled int
	for _, b := range buys {
		if b.TransferSignature != "" {
			backfilled++
		}
	}
	if backfilled != 1 {
		t.Errorf("buys with transfer signature = %d, want 1", backfilled)
	}
	if h.notifier.campaignDone != 1 {
		t.Errorf("completion notifications = %d, want 1", h.notifier.campaignDone)
	}
}

func TestExecutorRecoversStuckTokens(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 1)
	h.chain.balances[h.keypair.Address()] = 100_000_000
	h.mover.heldTokens[h.keypair.Address()] = big.NewInt(555)

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeRecovered {
		t.Fatalf("outcome = %v, want OutcomeRecovered", res.Outcome)
	}

	// Recovery never advances progress.
	if c := h.storedCampaign(t); c.BuysCompleted != 1 {
		t.Errorf("buys_completed = %d, want unchanged 1", c.BuysCompleted)
	}
	if len(h.mover.tokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want 1", len(h.mover.tokenTransfers))
	}
	if got := h.mover.tokenTransfers[0].amount; got.Cmp(big.NewInt(555)) != 0 {
		t.Errorf("recovered = %s, want 555", got)
	}
	if len(h.gateway.quotedLamports) != 0 {
		t.Error("no swap may run in a recovery cycle")
	}
}

func TestExecutorRecoverySkippedWithoutGas(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 3, 0)
	// Stuck tokens exist but gas is below the recovery minimum; the cycle
	// continues into the normal funding check.
	h.chain.balances[h.keypair.Address()] = DefaultConfig().RecoveryGasLamports - 1
	h.mover.heldTokens[h.keypair.Address()] = big.NewInt(555)

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeWaiting {
		t.Fatalf("outcome = %v, want OutcomeWaiting from the funding check", res.Outcome)
	}
	if len(h.mover.tokenTransfers) != 0 {
		t.Error("recovery must not transfer without gas")
	}
}

func TestExecutorFinalSwapFailureStillDelivers(t *testing.T) {
	h := newExecutorHarness(t, DefaultConfig(), 2, 1)
	h.chain.balances[h.keypair.Address()] = 500_000_000
	h.gateway.execErr = errBoom

	prior := &domain.Buy{
		ID:             "01ARZ3NDEKTSV4RRFFQ69G5FA1",
		CampaignID:     h.campaign.ID,
		SwapSignature:  "prior-sig",
		AmountUSD:      decimal.NewFromInt(10),
		TokensReceived: big.NewInt(900),
		Status:         domain.BuySuccess,
		ExecutedAt:     time.Now().UTC(),
	}
	if err := h.buys.Insert(context.Background(), prior); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	res := h.executor.Execute(context.Background(), h.campaign)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want OutcomeCompleted (err %v)", res.Outcome, res.Err)
	}
	if len(h.mover.tokenTransfers) != 1 {
		t.Fatalf("token transfers = %d, want 1", len(h.mover.tokenTransfers))
	}
	if got := h.mover.tokenTransfers[0].amount; got.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("delivered = %s, want the prior 900", got)
	}
}
