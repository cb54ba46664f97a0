package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solana-dca-engine/internal/domain"
	"solana-dca-engine/internal/notify"
	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/swap"
	"solana-dca-engine/internal/wallet"
)

type fakeChain struct {
	mu       sync.Mutex
	balances map[string]uint64
	sigs     map[string][]solana.SignatureInfo
	deltas   map[string]int64
	balErr   error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances: make(map[string]uint64),
		sigs:     make(map[string][]solana.SignatureInfo),
		deltas:   make(map[string]int64),
	}
}

func (f *fakeChain) GetBalance(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balances[address], nil
}

func (f *fakeChain) GetSignaturesForAddress(_ context.Context, address string, limit int) ([]solana.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sigs := f.sigs[address]
	if len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

func (f *fakeChain) GetBalanceDelta(_ context.Context, signature, _ string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deltas[signature]
	return d, ok, nil
}

type fakeGateway struct {
	quoteErr  error
	execErr   error
	tokensOut int64

	quotedLamports []uint64
	executions     int
}

func (f *fakeGateway) GetQuote(_ context.Context, outputMint string, lamports uint64) (*swap.Quote, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	f.quotedLamports = append(f.quotedLamports, lamports)
	return &swap.Quote{
		InAmount:   lamports,
		OutAmount:  big.NewInt(f.tokensOut),
		OutputMint: outputMint,
	}, nil
}

func (f *fakeGateway) Execute(_ context.Context, _ *swap.Quote, _ *wallet.Keypair) (string, error) {
	if f.execErr != nil {
		return "", f.execErr
	}
	f.executions++
	return "swap-sig", nil
}

type transferRecord struct {
	mint     string
	amount   *big.Int
	lamports uint64
	to       string
}

type fakeMover struct {
	heldTokens  map[string]*big.Int // by owner address
	tokenErr    error
	transferErr error
	nativeErr   error

	tokenTransfers  []transferRecord
	nativeTransfers []transferRecord
}

func newFakeMover() *fakeMover {
	return &fakeMover{heldTokens: make(map[string]*big.Int)}
}

func (f *fakeMover) TokenBalance(_ context.Context, _ string, owner solanago.PublicKey) (*big.Int, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	if held, ok := f.heldTokens[owner.String()]; ok {
		return new(big.Int).Set(held), nil
	}
	return new(big.Int), nil
}

func (f *fakeMover) EnsureTokenAccount(_ context.Context, _ string, _ solanago.PublicKey, _ *wallet.Keypair) error {
	return nil
}

func (f *fakeMover) TransferToken(_ context.Context, mint string, amount *big.Int, from *wallet.Keypair, to string) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	delete(f.heldTokens, from.Address())
	f.tokenTransfers = append(f.tokenTransfers, transferRecord{
		mint:   mint,
		amount: new(big.Int).Set(amount),
		to:     to,
	})
	return "transfer-sig", nil
}

func (f *fakeMover) TransferNative(_ context.Context, lamports uint64, _ *wallet.Keypair, to string) (string, error) {
	if f.nativeErr != nil {
		return "", f.nativeErr
	}
	f.nativeTransfers = append(f.nativeTransfers, transferRecord{lamports: lamports, to: to})
	return "native-sig", nil
}

type fakeOracle struct {
	price decimal.Decimal
	err   error
}

func (f *fakeOracle) SpotPrice(_ context.Context) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

type fakeNotifier struct {
	mu           sync.Mutex
	deposits     int
	completed    int
	failed       int
	insufficient int
	campaignDone int
	cancelled    int
}

func (f *fakeNotifier) DepositDetected(_ context.Context, _ *domain.Campaign, _ uint64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits++
}

func (f *fakeNotifier) BuyCompleted(_ context.Context, _ *domain.Campaign, _ notify.BuyReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
}

func (f *fakeNotifier) BuyFailed(_ context.Context, _ *domain.Campaign, _ int, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
}

func (f *fakeNotifier) InsufficientFunds(_ context.Context, _ *domain.Campaign, _, _ uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insufficient++
}

func (f *fakeNotifier) CampaignCompleted(_ context.Context, _ *domain.Campaign) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaignDone++
}

func (f *fakeNotifier) CampaignCancelled(_ context.Context, _ *domain.Campaign, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

var errBoom = errors.New("boom")
