package notify

import (
	"context"

	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
)

// Log is a Notifier that only writes to the log. Used when no bot token
// is configured and as the default in tests.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) DepositDetected(_ context.Context, c *domain.Campaign, lamports uint64, signature string) {
	l.logger.Info("deposit detected",
		zap.String("campaign_id", c.ID),
		zap.Uint64("lamports", lamports),
		zap.String("signature", signature))
}

func (l *Log) BuyCompleted(_ context.Context, c *domain.Campaign, r BuyReport) {
	l.logger.Info("buy completed",
		zap.String("campaign_id", c.ID),
		zap.Int("buy_number", r.BuyNumber),
		zap.Int("total_buys", r.TotalBuys),
		zap.String("tokens_received", r.TokensReceived.String()),
		zap.Bool("final", r.IsFinal))
}

func (l *Log) BuyFailed(_ context.Context, c *domain.Campaign, buyNumber int, cause error) {
	l.logger.Warn("buy failed",
		zap.String("campaign_id", c.ID),
		zap.Int("buy_number", buyNumber),
		zap.Error(cause))
}

func (l *Log) InsufficientFunds(_ context.Context, c *domain.Campaign, balanceLamports, requiredLamports uint64) {
	l.logger.Warn("insufficient funds",
		zap.String("campaign_id", c.ID),
		zap.Uint64("balance_lamports", balanceLamports),
		zap.Uint64("required_lamports", requiredLamports))
}

func (l *Log) CampaignCompleted(_ context.Context, c *domain.Campaign) {
	l.logger.Info("campaign completed", zap.String("campaign_id", c.ID))
}

func (l *Log) CampaignCancelled(_ context.Context, c *domain.Campaign, refundSignature string) {
	l.logger.Info("campaign cancelled",
		zap.String("campaign_id", c.ID),
		zap.String("refund_signature", refundSignature))
}
