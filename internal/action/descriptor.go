package action

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	xerrors "cryptonite/internal/errors"
)

// Kind 区分待确认动作的类型。
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindSwap     Kind = "swap"
)

// LamportsPerSOL 是 SOL 与 lamport 之间的固定换算系数。
const LamportsPerSOL = 1_000_000_000

// Transfer 描述一次原生 SOL 转账。
type Transfer struct {
	Destination    string `json:"destination"`
	AmountLamports uint64 `json:"amount_lamports"`
}

// Swap 描述一笔由助手后端预先构建好的兑换交易。
type Swap struct {
	EncodedTransaction string  `json:"encoded_transaction"`
	Token              string  `json:"token"`
	AmountUI           float64 `json:"amount_ui"`
}

// Descriptor 是等待用户确认的链上动作，Transfer 与 Swap 有且只有一个被设置。
type Descriptor struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Transfer *Transfer `json:"transfer,omitempty"`
	Swap     *Swap     `json:"swap,omitempty"`
}

// NewTransfer 构造一个转账描述。
func NewTransfer(destination string, lamports uint64) Descriptor {
	return Descriptor{
		ID:       uuid.NewString(),
		Kind:     KindTransfer,
		Transfer: &Transfer{Destination: strings.TrimSpace(destination), AmountLamports: lamports},
	}
}

// NewSwap 构造一个兑换描述。
func NewSwap(encoded, token string, amount float64) Descriptor {
	return Descriptor{
		ID:   uuid.NewString(),
		Kind: KindSwap,
		Swap: &Swap{EncodedTransaction: strings.TrimSpace(encoded), Token: token, AmountUI: amount},
	}
}

// Validate 检查描述的结构是否完整。
func (d Descriptor) Validate() error {
	switch {
	case d.Transfer != nil && d.Swap != nil:
		return xerrors.New(xerrors.CodeMalformedDescriptor, "descriptor carries both transfer and swap payloads")
	case d.Transfer != nil:
		return d.Transfer.Validate()
	case d.Swap != nil:
		return d.Swap.Validate()
	default:
		return xerrors.New(xerrors.CodeMalformedDescriptor, "descriptor carries neither transfer nor swap payload")
	}
}

// Validate 要求目标地址与金额同时存在，金额为 0 视为缺失。
func (t *Transfer) Validate() error {
	if t == nil || t.Destination == "" || t.AmountLamports == 0 {
		return xerrors.New(xerrors.CodeMalformedDescriptor, "transfer requires destination and amount")
	}
	if _, err := solana.PublicKeyFromBase58(t.Destination); err != nil {
		return xerrors.Wrap(xerrors.CodeMalformedDescriptor, err, "transfer destination is not a valid address",
			xerrors.WithMetadata("destination", t.Destination))
	}
	return nil
}

// DestinationKey 返回解析后的目标公钥。
func (t *Transfer) DestinationKey() (solana.PublicKey, error) {
	if err := t.Validate(); err != nil {
		return solana.PublicKey{}, err
	}
	return solana.MustPublicKeyFromBase58(t.Destination), nil
}

// Validate 只检查负载是否存在，字节级校验由交易解码完成。
func (s *Swap) Validate() error {
	if s == nil || s.EncodedTransaction == "" {
		return xerrors.New(xerrors.CodeMalformedDescriptor, "swap requires an encoded transaction")
	}
	return nil
}

// Summary 返回用于日志与事件的简短描述。
func (d Descriptor) Summary() string {
	switch {
	case d.Transfer != nil:
		return fmt.Sprintf("transfer %s SOL to %s", FormatSOL(d.Transfer.AmountLamports), d.Transfer.Destination)
	case d.Swap != nil:
		return fmt.Sprintf("swap for %s of %s", FormatAmount(d.Swap.AmountUI), d.Swap.Token)
	default:
		return "invalid descriptor"
	}
}

// FormatSOL 以精确的十进制形式输出 lamport 对应的 SOL 数量，去掉末尾多余的 0。
func FormatSOL(lamports uint64) string {
	r := new(big.Rat).SetFrac(new(big.Int).SetUint64(lamports), big.NewInt(LamportsPerSOL))
	return trimDecimal(r.FloatString(9))
}

// FormatAmount 输出一个 UI 数量，整数不带小数点。
func FormatAmount(v float64) string {
	return trimDecimal(fmt.Sprintf("%.9f", v))
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
