package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/notify"
	"solana-dca-engine/internal/observability"
	"solana-dca-engine/internal/storage"
)

const (
	signatureScanLimit = 5
	awaitingBatchLimit = 100
)

// DepositWatcher registers deposit addresses for push notifications.
// Implemented by solana.AccountWatcher; registering an address twice is
// a no-op.
type DepositWatcher interface {
	Watch(address string) error
}

// Matcher detects incoming deposits and activates the campaign they
// belong to. Shared-wallet deposits are matched by amount against the
// expected deposit of every pending campaign; dedicated wallets activate
// on a balance threshold.
type Matcher struct {
	cfg       Config
	chain     ChainClient
	campaigns storage.CampaignStore
	events    storage.ExecutionEventStore
	notifier  notify.Notifier
	metrics   *observability.Metrics
	logger    *zap.Logger

	// sharedWallet is the legacy operator deposit address, empty when
	// every campaign uses a dedicated wallet.
	sharedWallet string
	// lastSeenSig bounds the shared-wallet signature scan. Held here, on
	// the matcher, so its lifecycle is the process lifecycle.
	lastSeenSig string
	// watcher, when set, gets every awaiting deposit address so a push
	// notification can trigger a pass ahead of the poll.
	watcher DepositWatcher
}

// NewMatcher creates a deposit matcher. sharedWallet may be empty,
// metrics may be nil.
func NewMatcher(cfg Config, chain ChainClient, campaigns storage.CampaignStore, events storage.ExecutionEventStore, notifier notify.Notifier, sharedWallet string, metrics *observability.Metrics, logger *zap.Logger) *Matcher {
	return &Matcher{
		cfg:          cfg,
		chain:        chain,
		campaigns:    campaigns,
		events:       events,
		notifier:     notifier,
		metrics:      metrics,
		sharedWallet: sharedWallet,
		logger:       logger,
	}
}

// Run performs one detection pass over both modes. Errors are logged and
// isolated; one bad campaign never blocks the rest.
func (m *Matcher) Run(ctx context.Context) {
	pending, err := m.campaigns.AwaitingDeposit(ctx, awaitingBatchLimit)
	if err != nil {
		m.logger.Error("awaiting-deposit query failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	var shared, dedicated []*domain.Campaign
	for _, c := range pending {
		if c.HasDedicatedWallet() {
			dedicated = append(dedicated, c)
		} else {
			shared = append(shared, c)
		}
	}

	if len(shared) > 0 && m.sharedWallet != "" {
		m.scanSharedWallet(ctx, shared)
	}
	for _, c := range dedicated {
		if m.watcher != nil {
			if err := m.watcher.Watch(c.DepositAddress); err != nil {
				m.logger.Warn("deposit wallet watch failed",
					zap.String("campaign_id", c.ID), zap.Error(err))
			}
		}
		m.checkDedicated(ctx, c)
	}
}

// UseWatcher enables the websocket fast path: the shared wallet is
// registered immediately and awaiting dedicated wallets as Run sees
// them, so an incoming deposit triggers a pass without waiting for the
// next poll.
func (m *Matcher) UseWatcher(w DepositWatcher) {
	m.watcher = w
	if m.sharedWallet != "" {
		if err := w.Watch(m.sharedWallet); err != nil {
			m.logger.Warn("shared wallet watch failed", zap.Error(err))
		}
	}
}

// scanSharedWallet polls new confirmed transactions on the operator
// wallet and matches positive balance deltas against pending campaigns.
func (m *Matcher) scanSharedWallet(ctx context.Context, pending []*domain.Campaign) {
	sigs, err := m.chain.GetSignaturesForAddress(ctx, m.sharedWallet, signatureScanLimit)
	if err != nil {
		m.logger.Error("shared wallet signature scan failed", zap.Error(err))
		return
	}
	if len(sigs) == 0 {
		return
	}

	// First scan after process start: record the newest signature and
	// match nothing. Anything already on chain predates this process and
	// may have been consumed before a restart; replaying it could
	// activate a campaign from someone else's money.
	if m.lastSeenSig == "" {
		m.lastSeenSig = sigs[0].Signature
		return
	}

	// Signatures arrive newest first; cut at the last processed one and
	// replay the remainder oldest to newest.
	fresh := sigs
	for i, s := range sigs {
		if s.Signature == m.lastSeenSig {
			fresh = sigs[:i]
			break
		}
	}
	m.lastSeenSig = sigs[0].Signature

	for i := len(fresh) - 1; i >= 0; i-- {
		sig := fresh[i]
		if sig.Failed() {
			continue
		}

		delta, ok, err := m.chain.GetBalanceDelta(ctx, sig.Signature, m.sharedWallet)
		if err != nil {
			m.logger.Warn("balance delta lookup failed",
				zap.String("signature", sig.Signature), zap.Error(err))
			continue
		}
		if !ok || delta <= 0 {
			continue
		}

		m.matchDeposit(ctx, pending, uint64(delta), sig.Signature)
	}
}

// matchDeposit finds the single pending campaign whose expected deposit
// is within tolerance of amount. First match wins; a deposit is never
// split across campaigns.
func (m *Matcher) matchDeposit(ctx context.Context, pending []*domain.Campaign, amount uint64, signature string) {
	for _, c := range pending {
		if c.Status != domain.StatusAwaitingDeposit {
			continue
		}
		if absDiff(amount, c.ExpectedLamports) > m.cfg.MatchToleranceLamports {
			continue
		}
		m.activate(ctx, c, amount, signature)
		// Consumed: a second deposit of the same size must not re-match.
		c.Status = domain.StatusActive
		return
	}

	if m.metrics != nil {
		m.metrics.DepositsUnmatched.Inc()
	}
	m.logger.Warn("unmatched deposit on shared wallet",
		zap.Uint64("lamports", amount),
		zap.String("signature", signature))
}

// checkDedicated activates a dedicated-wallet campaign once its balance
// crosses the activation threshold. The threshold is deliberately loose
// to support pre-funding and manual top-ups; shortfalls are handled by
// the executor's funding policy.
func (m *Matcher) checkDedicated(ctx context.Context, c *domain.Campaign) {
	balance, err := m.chain.GetBalance(ctx, c.DepositAddress)
	if err != nil {
		m.logger.Warn("dedicated wallet balance check failed",
			zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}

	threshold := uint64(float64(c.ExpectedLamports) * m.cfg.ActivationRatio)
	if balance < threshold || balance == 0 {
		return
	}

	signature := ""
	if sigs, err := m.chain.GetSignaturesForAddress(ctx, c.DepositAddress, 1); err == nil && len(sigs) > 0 {
		signature = sigs[0].Signature
	}

	m.activate(ctx, c, balance, signature)
}

// activate flips the campaign to active with the first buy due
// immediately.
func (m *Matcher) activate(ctx context.Context, c *domain.Campaign, lamports uint64, signature string) {
	now := time.Now().UTC()
	if err := m.campaigns.MarkDeposited(ctx, c.ID, lamports, signature, now); err != nil {
		m.logger.Error("campaign activation failed",
			zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}

	if m.metrics != nil {
		m.metrics.DepositsDetected.Inc()
		m.metrics.CampaignsActivated.Inc()
	}
	m.logger.Info("deposit detected, campaign activated",
		zap.String("campaign_id", c.ID),
		zap.Uint64("lamports", lamports),
		zap.Uint64("expected_lamports", c.ExpectedLamports),
		zap.String("signature", signature))

	recordEvent(ctx, m.events, m.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "deposit",
		Signature:  signature,
		Lamports:   lamports,
	})
	m.notifier.DepositDetected(ctx, c, lamports, signature)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
