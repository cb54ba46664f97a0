package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/notify"
	"solana-dca-engine/internal/storage"
	"solana-dca-engine/internal/swap"
	"solana-dca-engine/internal/wallet"
)

// Outcome classifies one executor invocation for scheduling purposes.
type Outcome int

const (
	// OutcomeBought: swap committed, campaign stays active.
	OutcomeBought Outcome = iota
	// OutcomeCompleted: swap (or skip) committed the final buy.
	OutcomeCompleted
	// OutcomeRecovered: stuck tokens were delivered, no progress made.
	OutcomeRecovered
	// OutcomeWaiting: first buy cannot be funded yet, retry next tick.
	OutcomeWaiting
	// OutcomeCancelled: funds exhausted mid-campaign, refunded.
	OutcomeCancelled
	// OutcomeFailed: the cycle errored, retry after backoff.
	OutcomeFailed
)

// Result is the executor's verdict for one buy cycle.
type Result struct {
	Outcome        Outcome
	SwapSignature  string
	TokensReceived *big.Int
	SpentLamports  uint64
	FeeLamports    uint64
	Err            error
}

// Executor runs one complete buy cycle for a single campaign.
type Executor struct {
	cfg       Config
	chain     ChainClient
	gateway   SwapGateway
	mover     TokenMover
	oracle    PriceOracle
	campaigns storage.CampaignStore
	buys      storage.BuyStore
	events    storage.ExecutionEventStore
	notifier  notify.Notifier
	shared    *wallet.Keypair
	logger    *zap.Logger
}

// NewExecutor wires a buy executor. shared may be nil when no operator
// wallet fallback is configured.
func NewExecutor(
	cfg Config,
	chain ChainClient,
	gateway SwapGateway,
	mover TokenMover,
	oracle PriceOracle,
	campaigns storage.CampaignStore,
	buys storage.BuyStore,
	events storage.ExecutionEventStore,
	notifier notify.Notifier,
	shared *wallet.Keypair,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		cfg:       cfg,
		chain:     chain,
		gateway:   gateway,
		mover:     mover,
		oracle:    oracle,
		campaigns: campaigns,
		buys:      buys,
		events:    events,
		notifier:  notifier,
		shared:    shared,
		logger:    logger,
	}
}

// Execute runs the buy cycle. Any error or panic below the policy
// branches is recorded as a failed Buy and the campaign stays active for
// the next tick.
func (e *Executor) Execute(ctx context.Context, c *domain.Campaign) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = e.recordFailure(ctx, c, fmt.Errorf("buy cycle panic: %v", r))
		}
	}()

	res = e.run(ctx, c)
	if res.Outcome == OutcomeFailed {
		res = e.recordFailure(ctx, c, res.Err)
	}
	return res
}

func (e *Executor) run(ctx context.Context, c *domain.Campaign) Result {
	log := e.logger.With(zap.String("campaign_id", c.ID))
	buyNumber := c.BuysCompleted + 1
	log.Info("executing buy", zap.Int("buy_number", buyNumber), zap.Int("total_buys", c.NumberOfBuys))

	// Step 1: wallet resolution. A corrupt dedicated key falls back to
	// the shared operator wallet rather than aborting the cycle.
	signer, err := e.resolveWallet(c, log)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	// Step 2: stuck-token recovery from a prior cycle whose delivery
	// failed. Recovery never advances buy progress.
	if done, result := e.recoverStuckTokens(ctx, c, signer, log); done {
		return result
	}

	// Step 3: associated-account preflight. Failure is non-fatal, the
	// swap may still succeed.
	if err := e.mover.EnsureTokenAccount(ctx, c.TokenMint, signer.PublicKey(), signer); err != nil {
		log.Warn("token account preflight failed", zap.Error(err))
	}

	// Step 4: funding check.
	balance, err := e.chain.GetBalance(ctx, signer.Address())
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("get balance: %w", err)}
	}
	price, err := e.oracle.SpotPrice(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("spot price: %w", err)}
	}

	buyLamports := usdToLamports(c.PerBuyUSD, price)
	needed := buyLamports + e.cfg.GasBufferLamports
	finalBuy := c.NextBuyIsFinal()
	skipSwap := false

	if balance < needed {
		switch {
		case finalBuy:
			// Salvage the last buy: shrink the trade to the remainder, or
			// skip the swap and deliver what prior buys accumulated.
			available := uint64(0)
			if balance > e.cfg.GasBufferLamports {
				available = balance - e.cfg.GasBufferLamports
			}
			if available >= e.cfg.MinTradeLamports {
				log.Warn("final buy underfunded, shrinking trade",
					zap.Uint64("wanted_lamports", buyLamports),
					zap.Uint64("available_lamports", available))
				buyLamports = available
			} else {
				log.Warn("final buy unfundable, skipping swap and delivering accumulation",
					zap.Uint64("balance_lamports", balance))
				skipSwap = true
			}
		case c.BuysCompleted > 0:
			// Mid-campaign exhaustion: refund and cancel, no retry.
			return e.refundAndCancel(ctx, c, signer, balance, log)
		default:
			// Nothing spent yet: wait for the owner to fund the wallet.
			log.Warn("first buy underfunded, waiting for deposit top-up",
				zap.Uint64("balance_lamports", balance),
				zap.Uint64("required_lamports", needed))
			e.notifier.InsufficientFunds(ctx, c, balance, needed)
			return Result{Outcome: OutcomeWaiting}
		}
	}

	// Step 5: swap. A failed swap on the final buy degrades to a zero
	// top-up so the accumulated tokens still get delivered.
	var (
		swapSig   string
		tokensOut = new(big.Int)
	)
	if !skipSwap {
		swapSig, tokensOut, err = e.swapOnce(ctx, c, signer, buyLamports)
		if err != nil {
			if !finalBuy {
				return Result{Outcome: OutcomeFailed, Err: err}
			}
			log.Warn("final buy swap failed, delivering prior accumulation anyway", zap.Error(err))
			swapSig, tokensOut, buyLamports = "", new(big.Int), 0
		}
	}

	// Step 6: protocol fee, best effort.
	feePaid := e.collectFee(ctx, signer, log)

	// Step 7: progress commit. Must land before delivery so a crash after
	// this point can never re-spend the same scheduled slot.
	buy := &domain.Buy{
		ID:             ulid.Make().String(),
		CampaignID:     c.ID,
		SwapSignature:  swapSig,
		AmountUSD:      c.PerBuyUSD,
		AmountLamports: buyLamports,
		TokensReceived: tokensOut,
		FeeLamports:    feePaid,
		Status:         domain.BuySuccess,
		ExecutedAt:     time.Now().UTC(),
	}
	if skipSwap {
		buy.AmountLamports = 0
	}
	if err := e.buys.Insert(ctx, buy); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("record buy: %w", err)}
	}
	updated, err := e.campaigns.IncrementProgress(ctx, c.ID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("commit progress: %w", err)}
	}

	recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "buy",
		Signature:  swapSig,
		Lamports:   buy.AmountLamports,
		Tokens:     tokensOut.String(),
	})

	// Step 8: final delivery, only when this commit finished the plan.
	completed := updated.Status == domain.StatusCompleted
	var totalPooled *big.Int
	if completed {
		totalPooled = e.deliver(ctx, updated, signer, buy, log)
	} else if totalPooled, err = e.buys.SumTokensReceived(ctx, c.ID); err != nil {
		log.Warn("sum tokens failed", zap.Error(err))
		totalPooled = new(big.Int).Set(tokensOut)
	}

	// Step 9: notifications, fire and forget.
	e.notifier.BuyCompleted(ctx, updated, notify.BuyReport{
		BuyNumber:      updated.BuysCompleted,
		TotalBuys:      updated.NumberOfBuys,
		SpentUSD:       c.PerBuyUSD,
		TokensReceived: tokensOut,
		TotalPooled:    totalPooled,
		SwapSignature:  swapSig,
		IsFinal:        completed,
	})
	if completed {
		e.notifier.CampaignCompleted(ctx, updated)
		return Result{Outcome: OutcomeCompleted, SwapSignature: swapSig, TokensReceived: tokensOut, SpentLamports: buy.AmountLamports, FeeLamports: feePaid}
	}
	return Result{Outcome: OutcomeBought, SwapSignature: swapSig, TokensReceived: tokensOut, SpentLamports: buy.AmountLamports, FeeLamports: feePaid}
}

// resolveWallet picks the campaign's dedicated keypair, falling back to
// the shared operator wallet on decode failure or absence.
func (e *Executor) resolveWallet(c *domain.Campaign, log *zap.Logger) (*wallet.Keypair, error) {
	if c.HasDedicatedWallet() {
		kp, err := wallet.DecodeBase58(c.DepositPrivateKey)
		if err == nil {
			return kp, nil
		}
		log.Error("dedicated key decode failed, falling back to shared wallet", zap.Error(err))
	}
	if e.shared == nil {
		return nil, errors.New("no usable wallet: dedicated key missing or invalid and no shared wallet configured")
	}
	return e.shared, nil
}

// recoverStuckTokens delivers tokens left in the wallet by a failed
// delivery. Returns done=true when the cycle should stop here.
func (e *Executor) recoverStuckTokens(ctx context.Context, c *domain.Campaign, signer *wallet.Keypair, log *zap.Logger) (bool, Result) {
	held, err := e.mover.TokenBalance(ctx, c.TokenMint, signer.PublicKey())
	if err != nil {
		log.Warn("stuck-token check failed", zap.Error(err))
		return false, Result{}
	}
	if held.Sign() <= 0 {
		return false, Result{}
	}

	balance, err := e.chain.GetBalance(ctx, signer.Address())
	if err != nil || balance < e.cfg.RecoveryGasLamports {
		log.Warn("stuck tokens found but not enough gas to recover yet",
			zap.String("tokens", held.String()),
			zap.Uint64("balance_lamports", balance))
		return false, Result{}
	}

	sig, err := e.mover.TransferToken(ctx, c.TokenMint, held, signer, c.DestinationWallet)
	if err != nil {
		log.Warn("stuck-token recovery transfer failed", zap.Error(err))
		return false, Result{}
	}

	log.Info("stuck tokens recovered",
		zap.String("tokens", held.String()),
		zap.String("signature", sig))
	recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "recovery",
		Signature:  sig,
		Tokens:     held.String(),
	})
	return true, Result{Outcome: OutcomeRecovered, SwapSignature: sig, TokensReceived: held}
}

// refundAndCancel drains the wallet back to the destination and closes
// the campaign.
func (e *Executor) refundAndCancel(ctx context.Context, c *domain.Campaign, signer *wallet.Keypair, balance uint64, log *zap.Logger) Result {
	var refundSig string
	if balance > e.cfg.RefundReserveLamports {
		amount := balance - e.cfg.RefundReserveLamports
		sig, err := e.mover.TransferNative(ctx, amount, signer, c.DestinationWallet)
		if err != nil {
			log.Error("refund transfer failed, cancelling anyway", zap.Error(err))
		} else {
			refundSig = sig
			recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
				CampaignID: c.ID,
				Kind:       "refund",
				Signature:  sig,
				Lamports:   amount,
			})
		}
	}

	if err := e.campaigns.UpdateStatus(ctx, c.ID, domain.StatusCancelled); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("cancel campaign: %w", err)}
	}

	log.Warn("campaign cancelled, funds exhausted mid-run",
		zap.Int("buys_completed", c.BuysCompleted),
		zap.String("refund_signature", refundSig))
	e.notifier.CampaignCancelled(ctx, c, refundSig)
	return Result{Outcome: OutcomeCancelled}
}

// swapOnce quotes and executes one swap.
func (e *Executor) swapOnce(ctx context.Context, c *domain.Campaign, signer *wallet.Keypair, lamports uint64) (string, *big.Int, error) {
	quote, err := e.gateway.GetQuote(ctx, c.TokenMint, lamports)
	if err != nil {
		if errors.Is(err, swap.ErrNotTradable) {
			return "", nil, fmt.Errorf("token %s not tradable yet: %w", c.TokenMint, err)
		}
		return "", nil, fmt.Errorf("quote: %w", err)
	}
	sig, err := e.gateway.Execute(ctx, quote, signer)
	if err != nil {
		return "", nil, fmt.Errorf("swap: %w", err)
	}
	return sig, quote.OutAmount, nil
}

// collectFee sends the protocol fee, best effort. Returns the fee
// actually paid.
func (e *Executor) collectFee(ctx context.Context, signer *wallet.Keypair, log *zap.Logger) uint64 {
	if e.cfg.FeeWallet == "" || e.cfg.ProtocolFeeLamports == 0 {
		return 0
	}
	if _, err := e.mover.TransferNative(ctx, e.cfg.ProtocolFeeLamports, signer, e.cfg.FeeWallet); err != nil {
		log.Warn("fee collection failed", zap.Error(err))
		return 0
	}
	return e.cfg.ProtocolFeeLamports
}

// deliver transfers the campaign's full accumulation to the destination
// and sweeps the remaining native balance. Both are best effort; the
// campaign is already committed as completed.
func (e *Executor) deliver(ctx context.Context, c *domain.Campaign, signer *wallet.Keypair, triggering *domain.Buy, log *zap.Logger) *big.Int {
	total, err := e.buys.SumTokensReceived(ctx, c.ID)
	if err != nil {
		log.Error("delivery aborted, could not sum accumulation", zap.Error(err))
		return new(big.Int)
	}
	if total.Sign() <= 0 {
		log.Warn("nothing accumulated, skipping token delivery")
		e.sweepNative(ctx, c, signer, log)
		return total
	}

	sig, err := e.mover.TransferToken(ctx, c.TokenMint, total, signer, c.DestinationWallet)
	if err != nil {
		// Tokens stay safe in the campaign wallet; recovered by step 2 of
		// a later cycle once the owner tops up gas.
		log.Error("token delivery failed, funds remain in deposit wallet", zap.Error(err))
		e.notifier.BuyFailed(ctx, c, c.BuysCompleted, fmt.Errorf("delivery failed, tokens are safe in %s, fund it with 0.005 SOL to finish: %w", signer.Address(), err))
		return total
	}

	if err := e.buys.SetTransferSignature(ctx, triggering.ID, sig); err != nil {
		log.Warn("transfer signature backfill failed", zap.Error(err))
	}
	recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "delivery",
		Signature:  sig,
		Tokens:     total.String(),
	})
	log.Info("accumulation delivered",
		zap.String("tokens", total.String()),
		zap.String("signature", sig))

	e.sweepNative(ctx, c, signer, log)
	return total
}

// sweepNative drains the wallet's residual SOL to the destination,
// leaving a small reserve.
func (e *Executor) sweepNative(ctx context.Context, c *domain.Campaign, signer *wallet.Keypair, log *zap.Logger) {
	balance, err := e.chain.GetBalance(ctx, signer.Address())
	if err != nil {
		log.Warn("post-delivery balance check failed", zap.Error(err))
		return
	}
	if balance <= e.cfg.SweepThresholdLamports {
		return
	}
	amount := balance - e.cfg.SweepReserveLamports
	sig, err := e.mover.TransferNative(ctx, amount, signer, c.DestinationWallet)
	if err != nil {
		log.Warn("post-delivery sweep failed", zap.Error(err))
		return
	}
	recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
		CampaignID: c.ID,
		Kind:       "sweep",
		Signature:  sig,
		Lamports:   amount,
	})
}

// recordFailure writes the failed Buy record and notifies the owner. The
// campaign stays active for the next tick.
func (e *Executor) recordFailure(ctx context.Context, c *domain.Campaign, cause error) Result {
	e.logger.Error("buy cycle failed",
		zap.String("campaign_id", c.ID),
		zap.Int("buy_number", c.BuysCompleted+1),
		zap.Error(cause))

	buy := &domain.Buy{
		ID:             ulid.Make().String(),
		CampaignID:     c.ID,
		AmountUSD:      c.PerBuyUSD,
		TokensReceived: new(big.Int),
		Status:         domain.BuyFailed,
		ErrorMessage:   cause.Error(),
		ExecutedAt:     time.Now().UTC(),
	}
	if err := e.buys.Insert(ctx, buy); err != nil {
		e.logger.Error("failed buy record insert failed", zap.Error(err))
	}
	recordEvent(ctx, e.events, e.logger, &storage.ExecutionEvent{
		CampaignID:   c.ID,
		Kind:         "buy",
		ErrorMessage: cause.Error(),
	})

	e.notifier.BuyFailed(ctx, c, c.BuysCompleted+1, cause)
	return Result{Outcome: OutcomeFailed, Err: cause}
}

// usdToLamports converts a fiat amount to lamports at the given price.
func usdToLamports(usd, solPriceUSD decimal.Decimal) uint64 {
	if solPriceUSD.Sign() <= 0 {
		return 0
	}
	v := usd.Div(solPriceUSD).Shift(9).Round(0).IntPart()
	if v < 0 {
		return 0
	}
	return uint64(v)
}
