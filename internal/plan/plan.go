// Package plan computes campaign economics: service fees, gas reserve,
// per-buy amounts and the expected deposit with its disambiguating dust
// suffix. All fiat math is decimal, all native amounts are lamports.
package plan

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/wallet"
)

const lamportsPerSOL = 1_000_000_000

// Default economics.
var (
	DefaultFeePerBuyUSD  = decimal.NewFromFloat(0.05)
	DefaultGasReserveUSD = decimal.NewFromFloat(4.00)
)

// Errors returned by the calculator and builder.
var (
	ErrNoBuys       = errors.New("plan: number of buys must be positive")
	ErrBadInterval  = errors.New("plan: interval must be positive")
	ErrBadDeposit   = errors.New("plan: total deposit must be positive")
	ErrNoPriceQuote = errors.New("plan: SOL price must be positive")
)

// Breakdown is the fiat decomposition of a campaign deposit.
type Breakdown struct {
	TotalDepositUSD decimal.Decimal
	TotalFeesUSD    decimal.Decimal
	GasReserveUSD   decimal.Decimal
	AvailableUSD    decimal.Decimal
	PerBuyUSD       decimal.Decimal
}

// Calculator derives a Breakdown from a deposit and buy count.
type Calculator struct {
	FeePerBuyUSD  decimal.Decimal
	GasReserveUSD decimal.Decimal
}

// NewCalculator returns a calculator with the default economics.
func NewCalculator() Calculator {
	return Calculator{
		FeePerBuyUSD:  DefaultFeePerBuyUSD,
		GasReserveUSD: DefaultGasReserveUSD,
	}
}

// Calculate splits a deposit into fees, gas reserve and per-buy amounts.
// Deposits too small to cover fees and the gas reserve yield a zero
// per-buy amount rather than an error.
func (c Calculator) Calculate(totalDepositUSD decimal.Decimal, numberOfBuys int) (Breakdown, error) {
	if numberOfBuys <= 0 {
		return Breakdown{}, ErrNoBuys
	}
	if totalDepositUSD.Sign() <= 0 {
		return Breakdown{}, ErrBadDeposit
	}

	buys := decimal.NewFromInt(int64(numberOfBuys))
	totalFees := c.FeePerBuyUSD.Mul(buys)
	available := totalDepositUSD.Sub(totalFees).Sub(c.GasReserveUSD)

	perBuy := decimal.Zero
	if available.Sign() > 0 {
		perBuy = available.Div(buys)
	} else {
		available = decimal.Zero
	}

	return Breakdown{
		TotalDepositUSD: totalDepositUSD,
		TotalFeesUSD:    totalFees,
		GasReserveUSD:   c.GasReserveUSD,
		AvailableUSD:    available,
		PerBuyUSD:       perBuy,
	}, nil
}

// ExpectedDepositLamports converts the fiat deposit into lamports at the
// given SOL price and appends a pseudo-random dust suffix of 1000 to
// 100000 lamports so concurrent shared-wallet deposits stay
// distinguishable.
func ExpectedDepositLamports(totalDepositUSD, solPriceUSD decimal.Decimal, rnd *rand.Rand) (uint64, error) {
	if solPriceUSD.Sign() <= 0 {
		return 0, ErrNoPriceQuote
	}
	if totalDepositUSD.Sign() <= 0 {
		return 0, ErrBadDeposit
	}

	base := totalDepositUSD.Div(solPriceUSD).Shift(9).Round(0).IntPart()
	if base <= 0 {
		return 0, fmt.Errorf("plan: deposit of %s USD rounds to zero lamports", totalDepositUSD)
	}
	return uint64(base) + dustLamports(rnd), nil
}

// dustLamports draws 1000..100000 lamports in steps of 1000.
func dustLamports(rnd *rand.Rand) uint64 {
	var n int
	if rnd != nil {
		n = rnd.Intn(100)
	} else {
		n = rand.Intn(100)
	}
	return uint64(n+1) * 1000
}

// Params describes a campaign to be built.
type Params struct {
	OwnerID           int64
	TokenMint         string
	DestinationWallet string
	TotalDepositUSD   decimal.Decimal
	NumberOfBuys      int
	IntervalMinutes   int

	// SharedWallet, when set, is used as the deposit address instead of
	// generating a dedicated keypair. Campaigns on the shared wallet are
	// matched by deposit amount.
	SharedWallet string
}

// Builder assembles new campaigns from plan parameters.
type Builder struct {
	calc Calculator
	rnd  *rand.Rand
}

// NewBuilder creates a campaign builder. A nil rnd uses the global
// source.
func NewBuilder(calc Calculator, rnd *rand.Rand) *Builder {
	return &Builder{calc: calc, rnd: rnd}
}

// Build validates parameters, computes the plan at the given SOL price
// and returns a campaign awaiting its deposit. Dedicated deposit wallets
// are generated here; the private key is stored with the campaign.
func (b *Builder) Build(p Params, solPriceUSD decimal.Decimal) (*domain.Campaign, error) {
	if p.IntervalMinutes <= 0 {
		return nil, ErrBadInterval
	}
	if err := wallet.ValidateMint(p.TokenMint); err != nil {
		return nil, fmt.Errorf("plan: token mint: %w", err)
	}
	if err := wallet.ValidateAddress(p.DestinationWallet); err != nil {
		return nil, fmt.Errorf("plan: destination wallet: %w", err)
	}

	breakdown, err := b.calc.Calculate(p.TotalDepositUSD, p.NumberOfBuys)
	if err != nil {
		return nil, err
	}
	expected, err := ExpectedDepositLamports(p.TotalDepositUSD, solPriceUSD, b.rnd)
	if err != nil {
		return nil, err
	}

	campaign := &domain.Campaign{
		ID:                ulid.Make().String(),
		OwnerID:           p.OwnerID,
		TokenMint:         p.TokenMint,
		DestinationWallet: p.DestinationWallet,
		TotalDepositUSD:   breakdown.TotalDepositUSD,
		PerBuyUSD:         breakdown.PerBuyUSD,
		TotalFeesUSD:      breakdown.TotalFeesUSD,
		NumberOfBuys:      p.NumberOfBuys,
		IntervalMinutes:   p.IntervalMinutes,
		ExpectedLamports:  expected,
		Status:            domain.StatusAwaitingDeposit,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}

	if p.SharedWallet != "" {
		if err := wallet.ValidateAddress(p.SharedWallet); err != nil {
			return nil, fmt.Errorf("plan: shared wallet: %w", err)
		}
		campaign.DepositAddress = p.SharedWallet
	} else {
		kp, err := wallet.Generate()
		if err != nil {
			return nil, fmt.Errorf("plan: generate deposit wallet: %w", err)
		}
		campaign.DepositAddress = kp.Address()
		campaign.DepositPrivateKey = kp.ExportBase58()
	}

	return campaign, nil
}
