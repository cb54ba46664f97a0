package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/observability"
	"solana-dca-engine/internal/storage"
	"solana-dca-engine/internal/wallet"
)

const sweepBatchSize = 50

// Sweeper reclaims residual deposit-wallet balances from completed
// campaigns into the fee wallet. Shared-wallet campaigns are never
// touched, so the operator wallet cannot be drained by this job.
type Sweeper struct {
	cfg       Config
	chain     ChainClient
	mover     TokenMover
	campaigns storage.CampaignStore
	events    storage.ExecutionEventStore
	metrics   *observability.Metrics
	logger    *zap.Logger

	// limiter paces transfers to stay inside RPC rate limits.
	limiter *rate.Limiter
}

// NewSweeper creates a dust sweeper. metrics may be nil.
func NewSweeper(cfg Config, chain ChainClient, mover TokenMover, campaigns storage.CampaignStore, events storage.ExecutionEventStore, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		chain:     chain,
		mover:     mover,
		campaigns: campaigns,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Run sweeps one batch of completed, unswept campaigns.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.FeeWallet == "" {
		s.logger.Error("dust sweep skipped, no fee wallet configured")
		return
	}

	candidates, err := s.campaigns.SweepCandidates(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep candidate query failed", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	s.logger.Info("dust sweep started", zap.Int("candidates", len(candidates)))

	var swept int
	var reclaimed uint64
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return
		}

		lamports, ok := s.sweepOne(ctx, c)
		if ok {
			swept++
			reclaimed += lamports
		}
	}

	if s.metrics != nil {
		s.metrics.WalletsSwept.Add(float64(swept))
		s.metrics.LamportsSwept.Add(float64(reclaimed))
	}
	s.logger.Info("dust sweep finished",
		zap.Int("swept", swept),
		zap.Uint64("reclaimed_lamports", reclaimed))
}

// sweepOne drains one campaign wallet above the fee reserve. Campaigns
// without their own keypair are marked swept without transacting.
func (s *Sweeper) sweepOne(ctx context.Context, c *domain.Campaign) (uint64, bool) {
	log := s.logger.With(zap.String("campaign_id", c.ID))

	if !c.HasDedicatedWallet() {
		// Shared operator wallet: never drained by this job.
		if err := s.campaigns.MarkSwept(ctx, c.ID); err != nil {
			log.Warn("mark swept failed", zap.Error(err))
		}
		return 0, false
	}

	kp, err := wallet.DecodeBase58(c.DepositPrivateKey)
	if err != nil {
		log.Warn("deposit key undecodable, skipping", zap.Error(err))
		return 0, false
	}

	balance, err := s.chain.GetBalance(ctx, kp.Address())
	if err != nil {
		log.Warn("balance check failed", zap.Error(err))
		return 0, false
	}

	if balance <= s.cfg.RefundReserveLamports {
		// Nothing worth reclaiming.
		if err := s.campaigns.MarkSwept(ctx, c.ID); err != nil {
			log.Warn("mark swept failed", zap.Error(err))
		}
		return 0, true
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, false
	}

	amount := balance - s.cfg.RefundReserveLamports
	sig, err := s.mover.TransferNative(ctx, amount, kp, s.cfg.FeeWallet)
	if err != nil {
		log.Warn("sweep transfer failed", zap.Error(err))
		return 0, false
	}

	if err := s.campaigns.MarkSwept(ctx, c.ID); err != nil {
		log.Warn("mark swept failed after transfer", zap.Error(err))
	}
	recordEvent(ctx, s.events, s.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "sweep",
		Signature:  sig,
		Lamports:   amount,
	})
	log.Info("wallet swept",
		zap.Uint64("lamports", amount),
		zap.String("signature", sig))
	return amount, true
}
