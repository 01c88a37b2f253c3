package solana

import (
	"context"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"cryptonite/internal/web3"
)

// ErrTransactionFailed marks a transaction that landed but failed on chain.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// Payer signs and broadcasts transactions on behalf of a wallet.
type Payer interface {
	Address() solanago.PublicKey
	SignAndSendTransaction(ctx context.Context, tx *solanago.Transaction, opts web3.SendOptions) (solanago.Signature, error)
}

// TransferSubmitter sends native SOL transfers from a wallet and waits for
// the "confirmed" commitment.
type TransferSubmitter struct {
	ledger web3.Ledger
	payer  Payer
}

// NewTransferSubmitter binds a ledger to the paying wallet.
func NewTransferSubmitter(ledger web3.Ledger, payer Payer) *TransferSubmitter {
	return &TransferSubmitter{ledger: ledger, payer: payer}
}

// SubmitTransfer builds, signs, broadcasts and confirms one system transfer.
// The returned signature is set whenever broadcast succeeded, even if the
// confirmation failed.
func (s *TransferSubmitter) SubmitTransfer(ctx context.Context, to solanago.PublicKey, lamports uint64) (solanago.Signature, error) {
	if s == nil || s.ledger == nil || s.payer == nil {
		return solanago.Signature{}, errors.New("transfer submitter not configured")
	}
	if lamports == 0 {
		return solanago.Signature{}, errors.New("transfer amount must be positive")
	}

	window, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solanago.Signature{}, err
	}

	from := s.payer.Address()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		window.Blockhash,
		solanago.TransactionPayer(from),
	)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("build transfer: %w", err)
	}

	sig, err := s.payer.SignAndSendTransaction(ctx, tx, web3.SendOptions{PreflightCommitment: web3.StatusConfirmed})
	if err != nil {
		return solanago.Signature{}, err
	}

	conf, err := s.ledger.ConfirmTransaction(ctx, sig, window, web3.StatusConfirmed)
	if err != nil {
		return sig, fmt.Errorf("confirm transfer %s: %w", sig, err)
	}
	if conf.Failed() {
		return sig, fmt.Errorf("transfer %s: %w: %v", sig, ErrTransactionFailed, conf.Err)
	}
	return sig, nil
}
