package web3

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// ConfirmationStatus mirrors the cluster's commitment levels.
type ConfirmationStatus string

const (
	StatusUnknown   ConfirmationStatus = ""
	StatusProcessed ConfirmationStatus = "processed"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFinalized ConfirmationStatus = "finalized"
)

// Reaches reports whether s is at least as strong as target.
func (s ConfirmationStatus) Reaches(target ConfirmationStatus) bool {
	return s.rank() >= target.rank() && s != StatusUnknown
}

func (s ConfirmationStatus) rank() int {
	switch s {
	case StatusProcessed:
		return 1
	case StatusConfirmed:
		return 2
	case StatusFinalized:
		return 3
	}
	return 0
}

// BlockhashWindow is the validity ceiling a signature is confirmed against.
type BlockhashWindow struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Confirmation is the definitive answer of a confirmation call. Err is the
// on-chain execution error as reported by the node, nil on success.
type Confirmation struct {
	Status ConfirmationStatus
	Slot   uint64
	Err    any
}

// Failed reports whether the transaction landed but reverted.
func (c Confirmation) Failed() bool {
	return c.Err != nil
}

// SendOptions controls how a signed transaction is broadcast.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment ConfirmationStatus
}

// TokenHolding is one SPL token account owned by a wallet.
type TokenHolding struct {
	Account  string
	Mint     string
	Amount   string
	UIAmount string
	Decimals uint8
}

// Ledger is the subset of cluster RPC used to settle a broadcast transaction.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (BlockhashWindow, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, window BlockhashWindow, commitment ConfirmationStatus) (Confirmation, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error)
	Close() error
}

// Connector opens a Ledger against the configured RPC endpoint.
type Connector interface {
	Connect(ctx context.Context) (Ledger, error)
}
