package intake

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"

	"cryptonite/internal/action"
	"cryptonite/internal/assistant"
	"cryptonite/internal/conversation"
	"cryptonite/internal/wallet"
	"cryptonite/internal/web3"
	"cryptonite/pkg/logger"
)

// 追加到聊天记录中的固定文案。
const (
	MessageSlotOccupied     = "A transaction is already awaiting confirmation. Please finish it first."
	MessageNoTokens         = "You don't have any tokens in your wallet."
	MessageBuyFallback      = "Unable to process buy token request"
	MessageTrendingFallback = "Unable to process list trending tokens request"
	MessageNoResponse       = "No response available"
)

// BalanceReader 查询钱包的 SOL 余额（lamports）。
type BalanceReader interface {
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

// TokenReader 查询钱包持有的 SPL 代币账户。
type TokenReader interface {
	TokenHoldings(ctx context.Context, owner solana.PublicKey) ([]web3.TokenHolding, error)
}

// ProposalRecorder 统计动作提议是否被接受。
type ProposalRecorder interface {
	IncProposal(kind, result string)
}

// Result 描述一次处理的副作用。
type Result struct {
	Appended   bool
	Message    conversation.Message
	Descriptor *action.Descriptor
}

// Option customises an Intake.
type Option func(*Intake)

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Intake) {
		if l != nil {
			in.log = l
		}
	}
}

// WithRecorder attaches a proposal counter.
func WithRecorder(r ProposalRecorder) Option {
	return func(in *Intake) { in.recorder = r }
}

// Intake 将助手响应转换为聊天消息或待确认的交易描述。
type Intake struct {
	balances BalanceReader
	tokens   TokenReader
	log      *slog.Logger
	recorder ProposalRecorder
}

// New 创建 Intake。balances 与 tokens 可以为 nil，此时对应查询视为无数据。
func New(balances BalanceReader, tokens TokenReader, opts ...Option) *Intake {
	in := &Intake{balances: balances, tokens: tokens, log: logger.Named("intake")}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

// Process 按 Tool 分发响应。除了没有钱包或没有数据的分支，每次调用向 log 追加且仅追加一条消息。
func (in *Intake) Process(ctx context.Context, resp assistant.Response, wallets wallet.Lookup, slot *action.Slot, log *conversation.Log) Result {
	switch resp.Tool {
	case assistant.ToolGetBalance:
		owner, ok := connectedAddress(wallets)
		if !ok {
			return Result{}
		}
		return in.balance(ctx, owner, log)
	case assistant.ToolSendTransaction:
		if resp.TransactionData == nil {
			return Result{}
		}
		d := action.NewTransfer(resp.TransactionData.ToAddress, toLamports(resp.TransactionData.Amount))
		text := fmt.Sprintf("I'll help you send %s SOL to %s. Please confirm the transaction.",
			action.FormatSOL(d.Transfer.AmountLamports), d.Transfer.Destination)
		return in.propose(d, text, slot, log)
	case assistant.ToolBuyToken:
		if swap := resp.SwapTransaction; swap != nil {
			d := action.NewSwap(swap.Transaction, swap.Token, swap.Amount)
			text := fmt.Sprintf("I'll help you buy %s of %s. Please confirm the swap transaction.",
				action.FormatAmount(swap.Amount), swap.Token)
			return in.propose(d, text, slot, log)
		}
		return appendAI(log, fallback(resp.Response, MessageBuyFallback), false)
	case assistant.ToolListMyTokens:
		owner, ok := connectedAddress(wallets)
		if !ok {
			return Result{}
		}
		return in.listTokens(ctx, owner, log)
	case assistant.ToolListTrending:
		report := SegmentTrending(resp.Response)
		if strings.TrimSpace(report) == "" {
			return appendAI(log, MessageTrendingFallback, false)
		}
		return appendAI(log, report, true)
	default:
		in.log.Debug("unrecognised tool", slog.String("tool", resp.Tool))
		return appendAI(log, fallback(resp.Response, MessageNoResponse), false)
	}
}

func (in *Intake) propose(d action.Descriptor, text string, slot *action.Slot, log *conversation.Log) Result {
	if err := slot.Offer(d); err != nil {
		in.log.Warn("pending slot occupied, proposal dropped",
			slog.String("kind", string(d.Kind)), slog.String("descriptor_id", d.ID))
		in.count(d.Kind, "rejected")
		return appendAI(log, MessageSlotOccupied, false)
	}
	in.count(d.Kind, "accepted")
	res := appendAI(log, text, false)
	res.Descriptor = &d
	return res
}

func (in *Intake) count(kind action.Kind, result string) {
	if in.recorder != nil {
		in.recorder.IncProposal(string(kind), result)
	}
}

func (in *Intake) balance(ctx context.Context, owner solana.PublicKey, log *conversation.Log) Result {
	if in.balances == nil {
		return Result{}
	}
	lamports, err := in.balances.Balance(ctx, owner)
	if err != nil {
		in.log.Warn("balance query failed", slog.String("owner", owner.String()), slog.Any("error", err))
		return Result{}
	}
	return appendAI(log, fmt.Sprintf("Your balance is %s SOL", action.FormatSOL(lamports)), false)
}

func (in *Intake) listTokens(ctx context.Context, owner solana.PublicKey, log *conversation.Log) Result {
	if in.tokens == nil {
		return Result{}
	}
	holdings, err := in.tokens.TokenHoldings(ctx, owner)
	if err != nil {
		in.log.Warn("token account query failed", slog.String("owner", owner.String()), slog.Any("error", err))
		return Result{}
	}
	if len(holdings) == 0 {
		return appendAI(log, MessageNoTokens, false)
	}
	return appendAI(log, FormatHoldings(holdings), true)
}

// FormatHoldings 输出代币列表，每个代币一段。
func FormatHoldings(holdings []web3.TokenHolding) string {
	entries := make([]string, 0, len(holdings))
	for _, h := range holdings {
		entries = append(entries, fmt.Sprintf("Token: %s\nBalance: %s\nDecimals: %d\n", h.Mint, h.UIAmount, h.Decimals))
	}
	return "Here are your tokens:\n\n" + strings.Join(entries, "\n")
}

func connectedAddress(wallets wallet.Lookup) (solana.PublicKey, bool) {
	if wallets == nil {
		return solana.PublicKey{}, false
	}
	w, ok := wallets.Wallet()
	if !ok || w == nil || !w.Connected() {
		return solana.PublicKey{}, false
	}
	return w.Address(), true
}

func appendAI(log *conversation.Log, content string, formatted bool) Result {
	msg := log.Append(conversation.NewMessage(conversation.RoleAI, content, formatted))
	return Result{Appended: true, Message: msg}
}

func fallback(text, def string) string {
	if text == "" {
		return def
	}
	return text
}

// toLamports 把 JSON 数值转换为 lamports；负数与非有限值视为 0。
func toLamports(amount float64) uint64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0
	}
	if amount >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(amount))
}
