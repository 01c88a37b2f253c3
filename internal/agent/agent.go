package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"cryptonite/internal/action"
	"cryptonite/internal/assistant"
	"cryptonite/internal/conversation"
	xerrors "cryptonite/internal/errors"
	"cryptonite/internal/executor"
	"cryptonite/internal/intake"
	"cryptonite/internal/wallet"
	"cryptonite/pkg/logger"
)

// 会话中使用的固定文案。
const (
	Greeting       = "Hello, I am the Solana AI Assistant. How can I help you today?"
	GenericFailure = "Sorry, there was an error processing your request. Please try again."
	RetryHint      = "You can ask again."
)

// DefaultHistoryLimit 是 Resume 默认回放的消息数。
const DefaultHistoryLimit = 200

var (
	// ErrNoConversation 表示尚未创建会话。
	ErrNoConversation = stdErrors.New("no active conversation")
	// ErrNoPending 表示当前没有待确认的动作。
	ErrNoPending = stdErrors.New("no pending action")
	// ErrAlreadyExecuting 表示同一个动作的执行已经开始。
	ErrAlreadyExecuting = stdErrors.New("pending action is already executing")
)

// Assistant 是助手后端的调用接口。
type Assistant interface {
	CreateConversation(ctx context.Context, message string) (string, error)
	SendMessage(ctx context.Context, conversationID, message, walletAddress string) (assistant.Response, error)
}

// Intake 解析助手响应。
type Intake interface {
	Process(ctx context.Context, resp assistant.Response, wallets wallet.Lookup, slot *action.Slot, log *conversation.Log) intake.Result
}

// PendingGauge 记录是否存在待确认动作。
type PendingGauge interface {
	SetPending(occupied bool)
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRepository 配置消息持久化仓库。
func WithRepository(repo conversation.Repository) Option {
	return func(a *Agent) {
		a.repo = repo
	}
}

// WithHistoryLimit 设置 Resume 时回放的最大消息数，<=0 表示全部。
func WithHistoryLimit(limit int) Option {
	return func(a *Agent) {
		a.historyLimit = limit
	}
}

// WithPendingGauge 配置待确认动作指标。
func WithPendingGauge(g PendingGauge) Option {
	return func(a *Agent) {
		a.gauge = g
	}
}

// WithExecutorOptions 为每个执行器附加配置。
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(a *Agent) {
		a.execOpts = append(a.execOpts, opts...)
	}
}

// WithLogger 替换默认日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// Agent 维护一个会话的全部状态。
type Agent struct {
	client       Assistant
	intake       Intake
	wallets      wallet.Lookup
	deps         executor.Dependencies
	execOpts     []executor.Option
	repo         conversation.Repository
	gauge        PendingGauge
	historyLimit int
	log          *slog.Logger

	messages conversation.Log
	slot     action.Slot
	loading  atomic.Bool

	mu             sync.Mutex
	conversationID string
	claimed        map[string]bool
}

// New 创建一个 Agent。deps.Wallets 为空时使用 wallets。
func New(client Assistant, in Intake, wallets wallet.Lookup, deps executor.Dependencies, opts ...Option) *Agent {
	if deps.Wallets == nil {
		deps.Wallets = wallets
	}
	a := &Agent{
		client:       client,
		intake:       in,
		wallets:      wallets,
		deps:         deps,
		historyLimit: DefaultHistoryLimit,
		log:          logger.Named("agent"),
		claimed:      make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ConversationID 返回当前会话 ID，未创建时为空。
func (a *Agent) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}

// Loading 表示是否有消息请求在途。
func (a *Agent) Loading() bool {
	return a.loading.Load()
}

// Messages 返回聊天记录的副本。
func (a *Agent) Messages() []conversation.Message {
	return a.messages.Messages()
}

// Pending 返回等待确认的动作。
func (a *Agent) Pending() (action.Descriptor, bool) {
	return a.slot.Current()
}

// Start 创建会话。已有会话时直接返回。
func (a *Agent) Start(ctx context.Context, firstMessage string) error {
	if a.ConversationID() != "" {
		return nil
	}
	if a.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "assistant client not configured")
	}

	id, err := a.client.CreateConversation(ctx, firstMessage)
	if err != nil {
		a.log.Error("create conversation failed", slog.Any("error", err))
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "create conversation failed")
	}

	a.mu.Lock()
	if a.conversationID != "" {
		a.mu.Unlock()
		return nil
	}
	a.conversationID = id
	a.mu.Unlock()

	a.log.Info("conversation created", slog.String("conversation_id", id))
	a.record(ctx, a.messages.Append(conversation.NewMessage(conversation.RoleAI, Greeting, false)))
	return nil
}

// Resume 从对话存储回放一个已有会话，之后的 Send 继续使用该会话 ID。
// 回放的消息不会再次写入存储。
func (a *Agent) Resume(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation id is required")
	}
	if a.repo == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "transcript repository not configured")
	}
	if current := a.ConversationID(); current != "" {
		if current == conversationID {
			return nil
		}
		return xerrors.New(xerrors.CodeInvalidArgument, "another conversation is already active",
			xerrors.WithMetadata("conversation_id", current))
	}

	history, err := a.repo.List(ctx, conversationID, a.historyLimit)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load conversation history failed",
			xerrors.WithMetadata("conversation_id", conversationID))
	}

	a.mu.Lock()
	if a.conversationID != "" {
		a.mu.Unlock()
		return xerrors.New(xerrors.CodeInvalidArgument, "another conversation is already active")
	}
	a.conversationID = conversationID
	a.mu.Unlock()

	for _, msg := range history {
		a.messages.Append(msg)
	}
	a.log.Info("conversation resumed",
		slog.String("conversation_id", conversationID),
		slog.Int("messages", len(history)))
	return nil
}

// Send 发送一条用户消息并处理助手响应。空白输入会被忽略。
func (a *Agent) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	a.record(ctx, a.messages.Append(conversation.NewMessage(conversation.RoleUser, text, false)))

	id := a.ConversationID()
	if id == "" {
		a.fail(ctx)
		return ErrNoConversation
	}

	a.loading.Store(true)
	resp, err := a.client.SendMessage(ctx, id, text, wallet.AddressOf(a.wallets))
	a.loading.Store(false)
	if err != nil {
		a.log.Error("send message failed", slog.String("conversation_id", id), slog.Any("error", err))
		a.fail(ctx)
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "send message failed")
	}

	res := a.intake.Process(ctx, resp, a.wallets, &a.slot, &a.messages)
	if res.Appended {
		a.record(ctx, res.Message)
	}
	if res.Descriptor != nil {
		a.log.Info("action proposed",
			slog.String("descriptor_id", res.Descriptor.ID),
			slog.String("summary", res.Descriptor.Summary()))
		a.setPending(true)
	}
	return nil
}

// ExecutePending 执行当前待确认的动作。每个描述只会被认领一次，
// 重复调用或已丢弃的动作返回 ErrAlreadyExecuting。
func (a *Agent) ExecutePending(ctx context.Context) (action.Outcome, error) {
	d, ok := a.slot.Current()
	if !ok {
		return action.Outcome{}, ErrNoPending
	}
	if wallet.AddressOf(a.wallets) == "" {
		return action.Outcome{}, xerrors.New(xerrors.CodeCapabilityUnavailable, "")
	}

	ex, claimed := a.claim(d)
	if !claimed {
		return action.Outcome{}, ErrAlreadyExecuting
	}
	outcome, _ := ex.Run(ctx)
	// 成功时聊天记录保持不变，签名只写入日志与事件。
	if outcome.Succeeded() {
		a.log.Info("pending action settled",
			slog.String("descriptor_id", outcome.DescriptorID),
			slog.String("status", string(outcome.Status)),
			slog.String("explorer", ex.ExplorerLink(outcome.Signature)))
		return outcome, nil
	}
	a.record(ctx, a.messages.Append(conversation.NewMessage(conversation.RoleAI, describe(ex, outcome), false)))
	return outcome, nil
}

// DismissPending 丢弃待确认的动作，不发起任何网络调用。已被确认执行的动作无法丢弃。
func (a *Agent) DismissPending() bool {
	d, ok := a.slot.Current()
	if !ok {
		return false
	}
	a.mu.Lock()
	if a.claimed[d.ID] {
		a.mu.Unlock()
		return false
	}
	// 标记为已认领，之后的 ExecutePending 不会再运行它。
	a.claimed[d.ID] = true
	a.mu.Unlock()

	a.settle(d.ID)
	a.log.Info("pending action dismissed", slog.String("descriptor_id", d.ID))
	return true
}

// claim 在 a.mu 下认领描述并返回其执行器；同一描述只能被认领一次，
// 执行与丢弃互斥。
func (a *Agent) claim(d action.Descriptor) (*executor.Executor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimed[d.ID] {
		return nil, false
	}
	a.claimed[d.ID] = true
	settle := func(o action.Outcome) { a.settle(o.DescriptorID) }
	return executor.New(d, a.deps, executor.Callbacks{OnSuccess: settle, OnCancel: settle}, a.execOpts...), true
}

func (a *Agent) settle(id string) {
	if a.slot.Resolve(id) {
		a.setPending(false)
	}
}

func (a *Agent) setPending(occupied bool) {
	if a.gauge != nil {
		a.gauge.SetPending(occupied)
	}
}

func (a *Agent) fail(ctx context.Context) {
	a.record(ctx, a.messages.Append(conversation.NewMessage(conversation.RoleAI, GenericFailure, false)))
}

// record 持久化消息；失败只记录日志，不影响会话。
func (a *Agent) record(ctx context.Context, msg conversation.Message) {
	id := a.ConversationID()
	if a.repo == nil || id == "" {
		return
	}
	if err := a.repo.Append(ctx, id, msg); err != nil {
		a.log.Warn("persist message failed",
			slog.String("conversation_id", id),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
	}
}

// describe 把未成功的结果写成聊天消息；可重试的错误附带提示。
func describe(ex *executor.Executor, o action.Outcome) string {
	if o.Status == action.StatusUnresolved {
		link := xerrors.MetadataValue(o.Reason, "explorer")
		if link == "" {
			link = ex.ExplorerLink(o.Signature)
		}
		return "Transaction sent but confirmation is uncertain. Check the explorer: " + link
	}
	msg := "Transaction cancelled: " + reason(o.Reason)
	if xerrors.RetryableError(o.Reason) {
		msg = strings.TrimSuffix(msg, ".") + ". " + RetryHint
	}
	return msg
}

func reason(err error) string {
	if err == nil {
		return "unknown error"
	}
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}
