// Package swap executes SOL-to-token swaps through the Jupiter
// aggregator API: quote, build, sign, submit, confirm.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/wallet"
)

// WSOLMint is the wrapped SOL mint used as the input side of every swap.
const WSOLMint = "So11111111111111111111111111111111111111112"

// ErrNotTradable indicates the aggregator has no route for the output
// mint. Callers treat this as a permanent, non-retriable condition.
var ErrNotTradable = errors.New("swap: token not tradable")

const notTradableCode = "TOKEN_NOT_TRADABLE"

// Quote is a priced route for a prospective swap. Raw carries the full
// quote response and must be passed back unmodified when executing.
type Quote struct {
	InAmount   uint64
	OutAmount  *big.Int
	OutputMint string
	Raw        json.RawMessage
}

// Gateway talks to the Jupiter quote and swap endpoints.
type Gateway struct {
	baseURL     string
	slippageBPS int
	httpClient  *http.Client
	rpc         solana.RPCClient
	logger      *zap.Logger
}

// NewGateway creates a gateway against the given Jupiter API base URL.
func NewGateway(baseURL string, slippageBPS int, rpc solana.RPCClient, logger *zap.Logger) *Gateway {
	return &Gateway{
		baseURL:     baseURL,
		slippageBPS: slippageBPS,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rpc:         rpc,
		logger:      logger,
	}
}

type quoteResponse struct {
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	OutputMint string `json:"outputMint"`
	ErrorCode  string `json:"errorCode"`
	Error      string `json:"error"`
}

// GetQuote asks for a route swapping lamports of SOL into outputMint.
// Returns ErrNotTradable when the aggregator reports the mint has no route.
func (g *Gateway) GetQuote(ctx context.Context, outputMint string, lamports uint64) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", WSOLMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(lamports, 10))
	params.Set("slippageBps", strconv.Itoa(g.slippageBPS))

	endpoint := g.baseURL + "/quote?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if parsed.ErrorCode == notTradableCode {
		return nil, ErrNotTradable
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return nil, fmt.Errorf("quote failed: %s", parsed.Error)
		}
		return nil, fmt.Errorf("quote failed: status %d", resp.StatusCode)
	}

	inAmount, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quote inAmount %q: %w", parsed.InAmount, err)
	}
	outAmount, ok := new(big.Int).SetString(parsed.OutAmount, 10)
	if !ok {
		return nil, fmt.Errorf("parse quote outAmount %q", parsed.OutAmount)
	}

	return &Quote{
		InAmount:   inAmount,
		OutAmount:  outAmount,
		OutputMint: parsed.OutputMint,
		Raw:        json.RawMessage(body),
	}, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// Execute builds the swap transaction for a previously obtained quote,
// signs it with the campaign wallet and submits it, returning the
// confirmed signature.
func (g *Gateway) Execute(ctx context.Context, quote *Quote, signer *wallet.Keypair) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             signer.Address(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("encode swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read swap response: %w", err)
	}

	var parsed swapResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return "", fmt.Errorf("swap failed: %s", parsed.Error)
		}
		return "", fmt.Errorf("swap failed: status %d", resp.StatusCode)
	}
	if parsed.SwapTransaction == "" {
		return "", errors.New("swap response missing transaction")
	}

	tx, err := solanago.TransactionFromBase64(parsed.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("decode swap transaction: %w", err)
	}

	key := signer.PrivateKey()
	_, err = tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(signer.PublicKey()) {
			return &key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign swap transaction: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return "", fmt.Errorf("encode swap transaction: %w", err)
	}

	sig, err := g.rpc.SendTransaction(ctx, encoded)
	if err != nil {
		return "", fmt.Errorf("send swap transaction: %w", err)
	}

	g.logger.Info("swap transaction submitted",
		zap.String("output_mint", quote.OutputMint),
		zap.String("signature", sig))

	if err := g.rpc.ConfirmTransaction(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}
