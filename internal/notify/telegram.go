package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
)

const lamportsPerSOL = 1_000_000_000

// Telegram sends campaign notifications through the Telegram Bot API.
type Telegram struct {
	apiURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegram creates a notifier for the given bot token.
func NewTelegram(botToken string, logger *zap.Logger) *Telegram {
	return &Telegram{
		apiURL:     "https://api.telegram.org/bot" + botToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		t.logger.Error("encode notification", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		t.logger.Error("build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("send notification", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("notification rejected",
			zap.Int64("chat_id", chatID),
			zap.Int("status", resp.StatusCode))
	}
}

func (t *Telegram) DepositDetected(ctx context.Context, c *domain.Campaign, lamports uint64, signature string) {
	sol := float64(lamports) / lamportsPerSOL
	t.send(ctx, c.OwnerID, fmt.Sprintf(
		"*Deposit detected*\n\nAmount: `%.6f SOL`\nCampaign: `%s`\nStatus: `ACTIVE`\n\nYour campaign is activated and will begin trading shortly.\nTx: `%s...`",
		sol, c.ID, truncate(signature, 16)))
}

func (t *Telegram) BuyCompleted(ctx context.Context, c *domain.Campaign, r BuyReport) {
	var tail string
	if r.IsFinal {
		tail = "*Campaign finished.* All tokens have been delivered."
	} else {
		tail = fmt.Sprintf("Next buy in `%dm`.", c.IntervalMinutes)
	}
	t.send(ctx, c.OwnerID, fmt.Sprintf(
		"*Buy %d/%d complete*\n\nSpent: `$%s`\nBought: `%s`\nTotal pooled: `%s`\nSwap: `%s...`\n\n%s",
		r.BuyNumber, r.TotalBuys, r.SpentUSD.StringFixed(2),
		r.TokensReceived, r.TotalPooled, truncate(r.SwapSignature, 12), tail))
}

func (t *Telegram) BuyFailed(ctx context.Context, c *domain.Campaign, buyNumber int, cause error) {
	t.send(ctx, c.OwnerID, fmt.Sprintf(
		"*Buy %d failed*\n\nError: `%s`\n\nRetrying in 5 minutes. Your unspent funds are secure.",
		buyNumber, CleanError(cause)))
}

func (t *Telegram) InsufficientFunds(ctx context.Context, c *domain.Campaign, balanceLamports, requiredLamports uint64) {
	t.send(ctx, c.OwnerID, fmt.Sprintf(
		"*Insufficient funds*\n\nWallet balance: `%.6f SOL`\nRequired: `%.6f SOL`\n\nTop up the deposit wallet to continue:\n`%s`",
		float64(balanceLamports)/lamportsPerSOL,
		float64(requiredLamports)/lamportsPerSOL,
		c.DepositAddress))
}

func (t *Telegram) CampaignCompleted(ctx context.Context, c *domain.Campaign) {
	t.send(ctx, c.OwnerID, fmt.Sprintf(
		"*Campaign complete*\n\nCampaign: `%s`\nTotal buys: `%d`\nTotal spent: `$%s`\n\nAll tokens have been delivered to your wallet.",
		c.ID, c.NumberOfBuys, c.PerBuyUSD.Mul(decimal.NewFromInt(int64(c.NumberOfBuys))).StringFixed(2)))
}

func (t *Telegram) CampaignCancelled(ctx context.Context, c *domain.Campaign, refundSignature string) {
	msg := fmt.Sprintf("*Campaign cancelled*\n\nCampaign: `%s`", c.ID)
	if refundSignature != "" {
		msg += fmt.Sprintf("\nRemaining SOL refunded to your wallet.\nTx: `%s...`", truncate(refundSignature, 16))
	}
	t.send(ctx, c.OwnerID, msg)
}

// CleanError maps technical chain and aggregator errors to messages an
// owner can act on.
func CleanError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "0x177e"):
		return "Token program mismatch. Campaign settings are being adjusted."
	case strings.Contains(s, "no such host"), strings.Contains(s, "connection refused"):
		return "Temporary network issue reaching Solana or Jupiter. No funds were spent."
	case strings.Contains(s, "Simulation failed"):
		return "Transaction failed during simulation. The price likely moved too fast or liquidity is low."
	case strings.Contains(s, "Slippage"):
		return "Slippage was too high for this trade."
	case strings.Contains(s, "insufficient lamports"), strings.Contains(s, "insufficient funds"):
		return "Insufficient SOL for gas fees in the deposit wallet."
	case strings.Contains(s, "not tradable"):
		return "This token is not tradable on Jupiter yet. Waiting for liquidity."
	}
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
