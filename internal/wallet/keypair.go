package wallet

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"cryptonite/internal/web3"
)

// RawSender broadcasts a fully signed transaction.
type RawSender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts web3.SendOptions) (solana.Signature, error)
}

// Option customises a Keypair wallet.
type Option func(*Keypair)

// WithLegacyOnly makes the wallet refuse v0 messages, like an outdated
// browser extension.
func WithLegacyOnly() Option {
	return func(k *Keypair) {
		k.legacyOnly = true
	}
}

// Keypair is a local wallet backed by a solana-keygen key.
type Keypair struct {
	key        solana.PrivateKey
	sender     RawSender
	legacyOnly bool
	connected  atomic.Bool
}

var _ Capability = (*Keypair)(nil)

// NewKeypair wraps key; the wallet counts as connected until Disconnect.
func NewKeypair(key solana.PrivateKey, sender RawSender, opts ...Option) *Keypair {
	k := &Keypair{key: key, sender: sender}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	k.connected.Store(len(key) > 0 && sender != nil)
	return k
}

// LoadKeypair reads a solana-keygen JSON file.
func LoadKeypair(path string, sender RawSender, opts ...Option) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取钱包密钥失败: %w", err)
	}
	return NewKeypair(key, sender, opts...), nil
}

// Address returns the wallet public key.
func (k *Keypair) Address() solana.PublicKey {
	return k.key.PublicKey()
}

// Connected reports the presence marker.
func (k *Keypair) Connected() bool {
	return k != nil && k.connected.Load()
}

// Disconnect drops the presence marker.
func (k *Keypair) Disconnect() {
	k.connected.Store(false)
}

// SignAndSendTransaction adds the wallet signature and broadcasts tx.
func (k *Keypair) SignAndSendTransaction(ctx context.Context, tx *solana.Transaction, opts web3.SendOptions) (solana.Signature, error) {
	if !k.Connected() {
		return solana.Signature{}, ErrNotConnected
	}
	if tx == nil {
		return solana.Signature{}, fmt.Errorf("nil transaction")
	}
	if k.legacyOnly && tx.Message.IsVersioned() {
		return solana.Signature{}, ErrVersionedUnsupported
	}

	owner := k.Address()
	if !tx.Message.IsSigner(owner) {
		return solana.Signature{}, ErrSignerMissing
	}
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &k.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	return k.sender.SendTransaction(ctx, tx, opts)
}
