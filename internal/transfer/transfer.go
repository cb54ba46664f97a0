// Package transfer builds, signs and submits native SOL and SPL token
// transfers for campaign wallets. Instructions are assembled with
// solana-go and submitted through the JSON-RPC client so both token
// programs (legacy and Token-2022) are handled with the same code path.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/wallet"
)

// Well-known program ids.
var (
	// LegacyTokenProgram is the original SPL token program, used as the
	// default when mint inspection never succeeds.
	LegacyTokenProgram = solanago.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	associatedTokenProgram = solanago.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

const (
	programDetectRetries = 3
	programDetectDelay   = 500 * time.Millisecond

	// splTransferOpcode is the SPL token program Transfer instruction tag.
	splTransferOpcode = 3
)

// Service moves funds out of campaign wallets.
type Service struct {
	rpc    solana.RPCClient
	logger *zap.Logger
}

// NewService creates a transfer service.
func NewService(rpc solana.RPCClient, logger *zap.Logger) *Service {
	return &Service{rpc: rpc, logger: logger}
}

// TokenProgram returns the program id owning the mint account, retrying a
// bounded number of times and defaulting to the legacy token program when
// detection never succeeds.
func (s *Service) TokenProgram(ctx context.Context, mint string) solanago.PublicKey {
	for attempt := 0; attempt < programDetectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return LegacyTokenProgram
			case <-time.After(programDetectDelay):
			}
		}

		owner, err := s.rpc.GetAccountOwner(ctx, mint)
		if err != nil {
			continue
		}
		program, err := solanago.PublicKeyFromBase58(owner)
		if err != nil {
			continue
		}
		return program
	}

	s.logger.Warn("token program detection failed, defaulting to legacy program",
		zap.String("mint", mint))
	return LegacyTokenProgram
}

// AssociatedTokenAddress derives the canonical token account for an owner,
// mint and token program.
func AssociatedTokenAddress(owner, mint, tokenProgram solanago.PublicKey) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		associatedTokenProgram,
	)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

// TokenBalance returns the raw token amount held by owner's associated
// account for mint, zero when the account does not exist.
func (s *Service) TokenBalance(ctx context.Context, mint string, owner solanago.PublicKey) (*big.Int, error) {
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint: %w", err)
	}

	program := s.TokenProgram(ctx, mint)
	ata, err := AssociatedTokenAddress(owner, mintKey, program)
	if err != nil {
		return nil, err
	}

	balance, err := s.rpc.GetTokenBalance(ctx, ata.String())
	if errors.Is(err, solana.ErrAccountNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// EnsureTokenAccount creates owner's associated account for mint if it does
// not already exist, paid for by payer. Uses the idempotent create so a
// racing creation is harmless.
func (s *Service) EnsureTokenAccount(ctx context.Context, mint string, owner solanago.PublicKey, payer *wallet.Keypair) error {
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("parse mint: %w", err)
	}

	program := s.TokenProgram(ctx, mint)
	ata, err := AssociatedTokenAddress(owner, mintKey, program)
	if err != nil {
		return err
	}

	if _, err := s.rpc.GetTokenBalance(ctx, ata.String()); err == nil {
		return nil // already exists
	} else if !errors.Is(err, solana.ErrAccountNotFound) {
		return err
	}

	s.logger.Info("creating associated token account",
		zap.String("mint", mint),
		zap.String("owner", owner.String()),
		zap.String("ata", ata.String()))

	ix := createAssociatedAccountInstruction(payer.PublicKey(), ata, owner, mintKey, program)
	sig, err := s.signAndSend(ctx, payer, ix)
	if err != nil {
		return fmt.Errorf("create token account: %w", err)
	}

	s.logger.Info("associated token account created", zap.String("signature", sig))
	return nil
}

// TransferToken moves amount raw token units from the from wallet's
// associated account to the destination owner, creating the destination's
// associated account when absent.
func (s *Service) TransferToken(ctx context.Context, mint string, amount *big.Int, from *wallet.Keypair, to string) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", errors.New("transfer amount must be positive")
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("transfer amount %s exceeds u64", amount)
	}

	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("parse mint: %w", err)
	}
	toOwner, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}

	program := s.TokenProgram(ctx, mint)

	source, err := AssociatedTokenAddress(from.PublicKey(), mintKey, program)
	if err != nil {
		return "", err
	}
	dest, err := AssociatedTokenAddress(toOwner, mintKey, program)
	if err != nil {
		return "", err
	}

	var instructions []solanago.Instruction

	// Create the destination account when missing, in the same transaction.
	if _, err := s.rpc.GetTokenBalance(ctx, dest.String()); errors.Is(err, solana.ErrAccountNotFound) {
		instructions = append(instructions,
			createAssociatedAccountInstruction(from.PublicKey(), dest, toOwner, mintKey, program))
	} else if err != nil {
		return "", err
	}

	data := make([]byte, 9)
	data[0] = splTransferOpcode
	putUint64LE(data[1:], amount.Uint64())

	instructions = append(instructions, solanago.NewInstruction(
		program,
		solanago.AccountMetaSlice{
			solanago.NewAccountMeta(source, true, false),
			solanago.NewAccountMeta(dest, true, false),
			solanago.NewAccountMeta(from.PublicKey(), false, true),
		},
		data,
	))

	return s.signAndSend(ctx, from, instructions...)
}

// TransferNative moves lamports from the from wallet to the destination.
func (s *Service) TransferNative(ctx context.Context, lamports uint64, from *wallet.Keypair, to string) (string, error) {
	if lamports == 0 {
		return "", errors.New("transfer amount must be positive")
	}

	toKey, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}

	ix := system.NewTransferInstruction(lamports, from.PublicKey(), toKey).Build()
	return s.signAndSend(ctx, from, ix)
}

// signAndSend assembles instructions into a transaction signed by signer,
// submits it and waits for confirmed commitment.
func (s *Service) signAndSend(ctx context.Context, signer *wallet.Keypair, instructions ...solanago.Instruction) (string, error) {
	blockhashStr, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}
	blockhash, err := solanago.HashFromBase58(blockhashStr)
	if err != nil {
		return "", fmt.Errorf("parse blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	key := signer.PrivateKey()
	_, err = tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(signer.PublicKey()) {
			return &key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, encoded)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	if err := s.rpc.ConfirmTransaction(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

// createAssociatedAccountInstruction builds the idempotent associated
// token account creation instruction.
func createAssociatedAccountInstruction(payer, ata, owner, mint, tokenProgram solanago.PublicKey) solanago.Instruction {
	return solanago.NewInstruction(
		associatedTokenProgram,
		solanago.AccountMetaSlice{
			solanago.NewAccountMeta(payer, true, true),
			solanago.NewAccountMeta(ata, true, false),
			solanago.NewAccountMeta(owner, false, false),
			solanago.NewAccountMeta(mint, false, false),
			solanago.NewAccountMeta(solanago.SystemProgramID, false, false),
			solanago.NewAccountMeta(tokenProgram, false, false),
		},
		[]byte{1}, // CreateIdempotent
	)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
