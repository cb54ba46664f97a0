package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/observability"
	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/storage"
)

const (
	buyTickSpec   = "* * * * *"
	dustSweepSpec = "0 0 * * *"
)

// Scheduler ticks once a minute, runs deposit detection, dispatches due
// campaigns to the executor and triggers the daily dust sweep.
type Scheduler struct {
	cfg       Config
	matcher   *Matcher
	executor  *Executor
	sweeper   *Sweeper
	campaigns storage.CampaignStore
	metrics   *observability.Metrics
	logger    *zap.Logger

	cron *cron.Cron
	// deposits carries WebSocket account notifications for the fast
	// path; nil when no watcher is configured.
	deposits <-chan solana.AccountNotification

	cancel context.CancelFunc
}

// NewScheduler wires the engine's periodic driver. deposits may be nil.
func NewScheduler(
	cfg Config,
	matcher *Matcher,
	executor *Executor,
	sweeper *Sweeper,
	campaigns storage.CampaignStore,
	deposits <-chan solana.AccountNotification,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		matcher:   matcher,
		executor:  executor,
		sweeper:   sweeper,
		campaigns: campaigns,
		metrics:   metrics,
		logger:    logger,
		deposits:  deposits,
	}
}

// Start registers the cron entries and begins ticking. Returns after the
// schedules are installed; work happens on cron's goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(buyTickSpec, func() { s.tick(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(dustSweepSpec, func() { s.sweeper.Run(ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	if s.deposits != nil {
		go s.watchDeposits(ctx)
	}

	s.logger.Info("scheduler started",
		zap.String("buy_schedule", buyTickSpec),
		zap.String("sweep_schedule", dustSweepSpec))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("scheduler stopped")
}

// tick is one scheduler pass: detect deposits, then run every due
// campaign. Campaigns are processed serially; per-campaign overlap is
// excluded by the store-level processing flag.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	if s.metrics != nil {
		s.metrics.LastTick.Set(float64(now.Unix()))
	}

	s.matcher.Run(ctx)

	due, err := s.campaigns.DueForBuy(ctx, now)
	if err != nil {
		s.logger.Error("due-campaign query failed", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.DueCampaigns.Set(float64(len(due)))
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("campaigns due for a buy", zap.Int("count", len(due)))
	for _, c := range due {
		s.process(ctx, c)
	}
}

// process runs one campaign's buy cycle under the processing flag. The
// flag is acquired with a compare-and-set and unconditionally released,
// so no outcome, failure or panic can leave it stuck.
func (s *Scheduler) process(ctx context.Context, c *domain.Campaign) {
	acquired, err := s.campaigns.AcquireProcessing(ctx, c.ID)
	if err != nil {
		s.logger.Error("processing flag acquire failed",
			zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	if !acquired {
		// Another pass still holds this campaign.
		return
	}
	defer func() {
		if err := s.campaigns.ReleaseProcessing(ctx, c.ID); err != nil {
			s.logger.Error("processing flag release failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
		}
	}()

	start := time.Now()
	res := s.executor.Execute(ctx, c)
	s.observe(res, time.Since(start))

	switch res.Outcome {
	case OutcomeBought:
		next := time.Now().UTC().Add(time.Duration(c.IntervalMinutes) * time.Minute)
		if err := s.campaigns.ScheduleNextBuy(ctx, c.ID, next); err != nil {
			s.logger.Error("next buy scheduling failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
		}
	case OutcomeFailed:
		next := time.Now().UTC().Add(s.cfg.FailureBackoff)
		if err := s.campaigns.ScheduleNextBuy(ctx, c.ID, next); err != nil {
			s.logger.Error("retry scheduling failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
		}
	case OutcomeCompleted, OutcomeCancelled:
		// Terminal, nothing further to schedule.
	case OutcomeWaiting, OutcomeRecovered:
		// Still due: retried on the next tick without rescheduling.
	}
}

func (s *Scheduler) observe(res Result, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.BuyCycleLatency.Observe(elapsed.Seconds())
	s.metrics.LamportsSpent.Add(float64(res.SpentLamports))
	s.metrics.FeesCollected.Add(float64(res.FeeLamports))
	switch res.Outcome {
	case OutcomeBought:
		s.metrics.BuysExecuted.WithLabelValues("bought").Inc()
	case OutcomeCompleted:
		s.metrics.BuysExecuted.WithLabelValues("completed").Inc()
		s.metrics.CampaignsCompleted.Inc()
	case OutcomeRecovered:
		s.metrics.BuysExecuted.WithLabelValues("recovered").Inc()
	case OutcomeWaiting:
		s.metrics.BuysExecuted.WithLabelValues("waiting").Inc()
	case OutcomeCancelled:
		s.metrics.BuysExecuted.WithLabelValues("cancelled").Inc()
		s.metrics.CampaignsCancelled.Inc()
	case OutcomeFailed:
		s.metrics.BuysExecuted.WithLabelValues("failed").Inc()
	}
}

// watchDeposits reacts to WebSocket balance notifications by running an
// immediate detection pass instead of waiting for the next tick.
func (s *Scheduler) watchDeposits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, open := <-s.deposits:
			if !open {
				return
			}
			s.logger.Debug("account notification",
				zap.String("address", n.Address),
				zap.Uint64("lamports", n.Lamports))
			s.matcher.Run(ctx)
		}
	}
}
