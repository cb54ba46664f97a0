// Package pricing resolves the SOL/USD spot price from an ordered list of
// HTTP providers. Each provider sits behind its own circuit breaker so a
// flapping primary fails over to the backup without hammering it first.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// WSOLMint is the wrapped SOL mint address.
const WSOLMint = "So11111111111111111111111111111111111111112"

// ErrNoPrice is returned when every provider failed.
var ErrNoPrice = errors.New("all price providers failed")

// Provider returns a spot price from one source.
type Provider interface {
	Name() string
	SpotPrice(ctx context.Context) (decimal.Decimal, error)
}

// Oracle tries providers in order until one succeeds.
type Oracle struct {
	providers []Provider
	breakers  []*gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewOracle creates an oracle over the given providers, first is primary.
func NewOracle(logger *zap.Logger, providers ...Provider) *Oracle {
	breakers := make([]*gobreaker.CircuitBreaker, len(providers))
	for i, p := range providers {
		breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "price-" + p.Name(),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Oracle{providers: providers, breakers: breakers, logger: logger}
}

// SpotPrice returns the current SOL/USD price from the first healthy provider.
func (o *Oracle) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	var lastErr error

	for i, p := range o.providers {
		result, err := o.breakers[i].Execute(func() (interface{}, error) {
			return p.SpotPrice(ctx)
		})
		if err != nil {
			lastErr = err
			o.logger.Warn("price provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		return result.(decimal.Decimal), nil
	}

	if lastErr != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, lastErr)
	}
	return decimal.Zero, ErrNoPrice
}

// JupiterProvider reads the Jupiter price v2 API.
type JupiterProvider struct {
	baseURL string
	client  *http.Client
}

// NewJupiterProvider creates a provider against the given base URL
// (e.g. https://api.jup.ag).
func NewJupiterProvider(baseURL string, client *http.Client) *JupiterProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JupiterProvider{baseURL: baseURL, client: client}
}

// Name implements Provider.
func (p *JupiterProvider) Name() string { return "jupiter" }

// SpotPrice implements Provider.
func (p *JupiterProvider) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/price/v2?ids=%s", p.baseURL, WSOLMint)
	body, err := fetch(ctx, p.client, url)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode jupiter price: %w", err)
	}

	entry, ok := payload.Data[WSOLMint]
	if !ok || entry.Price == "" {
		return decimal.Zero, errors.New("jupiter price response missing SOL entry")
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse jupiter price %q: %w", entry.Price, err)
	}
	return price, nil
}

// CoinGeckoProvider reads the CoinGecko simple price API.
type CoinGeckoProvider struct {
	baseURL string
	client  *http.Client
}

// NewCoinGeckoProvider creates a provider against the given base URL
// (e.g. https://api.coingecko.com).
func NewCoinGeckoProvider(baseURL string, client *http.Client) *CoinGeckoProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinGeckoProvider{baseURL: baseURL, client: client}
}

// Name implements Provider.
func (p *CoinGeckoProvider) Name() string { return "coingecko" }

// SpotPrice implements Provider.
func (p *CoinGeckoProvider) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	url := p.baseURL + "/api/v3/simple/price?ids=solana&vs_currencies=usd"
	body, err := fetch(ctx, p.client, url)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Solana struct {
			USD json.Number `json:"usd"`
		} `json:"solana"`
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode coingecko price: %w", err)
	}
	if payload.Solana.USD == "" {
		return decimal.Zero, errors.New("coingecko price response missing SOL entry")
	}

	price, err := decimal.NewFromString(payload.Solana.USD.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse coingecko price %q: %w", payload.Solana.USD, err)
	}
	return price, nil
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
