package wallet

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"cryptonite/internal/web3"
)

var (
	// ErrVersionedUnsupported 表示钱包无法处理 v0 版本的交易，需要升级。
	ErrVersionedUnsupported = errors.New("versioned transaction not supported by wallet")
	// ErrUserRejected 表示用户在钱包侧拒绝签名。
	ErrUserRejected = errors.New("user rejected the request")
	// ErrSignerMissing 表示钱包不是交易要求的签名者。
	ErrSignerMissing = errors.New("wallet is not a required signer of the transaction")
	// ErrNotConnected 表示钱包尚未连接。
	ErrNotConnected = errors.New("wallet not connected")
)

// Capability 是执行交易时借用的钱包能力。
type Capability interface {
	Address() solana.PublicKey
	Connected() bool
	SignAndSendTransaction(ctx context.Context, tx *solana.Transaction, opts web3.SendOptions) (solana.Signature, error)
}

// Lookup 在执行时解析当前可用的钱包。
type Lookup interface {
	Wallet() (Capability, bool)
}

// StaticLookup 返回固定的钱包，nil 表示没有钱包。
type StaticLookup struct {
	Capability Capability
}

// Wallet 实现 Lookup。
func (s StaticLookup) Wallet() (Capability, bool) {
	if s.Capability == nil {
		return nil, false
	}
	return s.Capability, true
}

// AddressOf 返回已连接钱包的地址，未连接时为空字符串。
func AddressOf(lookup Lookup) string {
	if lookup == nil {
		return ""
	}
	w, ok := lookup.Wallet()
	if !ok || !w.Connected() {
		return ""
	}
	return w.Address().String()
}
