package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"cryptonite/internal/action"
	xerrors "cryptonite/internal/errors"
	"cryptonite/internal/events"
	"cryptonite/internal/wallet"
	"cryptonite/internal/web3"
	web3sol "cryptonite/internal/web3/solana"
	"cryptonite/pkg/logger"
)

const (
	// DefaultConfirmTimeout bounds blockhash fetch plus confirmation.
	DefaultConfirmTimeout = 60 * time.Second
	// DefaultProbeTimeout bounds the secondary signature status lookup.
	DefaultProbeTimeout = 10 * time.Second
)

// TransferSubmitter sends a native transfer from the connected wallet.
type TransferSubmitter interface {
	SubmitTransfer(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// Recorder receives one observation per finished execution.
type Recorder interface {
	ObserveExecution(kind, status string, elapsed time.Duration)
}

// Dependencies are the collaborators an execution may call.
type Dependencies struct {
	Wallets   wallet.Lookup
	Transfers TransferSubmitter
	Connector web3.Connector
}

// Callbacks are the two mutually exclusive completion channels.
type Callbacks struct {
	OnSuccess func(action.Outcome)
	OnCancel  func(action.Outcome)
}

// Option customises an Executor.
type Option func(*Executor)

// WithConfirmTimeout overrides DefaultConfirmTimeout.
func WithConfirmTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.confirmTimeout = d
		}
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithDispatcher attaches an outcome event dispatcher.
func WithDispatcher(d events.Dispatcher) Option {
	return func(e *Executor) { e.dispatcher = d }
}

// WithExplorer sets the transaction explorer URL prefix.
func WithExplorer(prefix string) Option {
	return func(e *Executor) {
		if prefix != "" {
			e.explorer = prefix
		}
	}
}

// Executor performs at most one execution attempt for one descriptor.
type Executor struct {
	descriptor action.Descriptor
	deps       Dependencies
	callbacks  Callbacks

	confirmTimeout time.Duration
	probeTimeout   time.Duration
	explorer       string
	log            *slog.Logger
	recorder       Recorder
	dispatcher     events.Dispatcher

	started atomic.Bool
}

// New binds an executor to a single descriptor.
func New(descriptor action.Descriptor, deps Dependencies, callbacks Callbacks, opts ...Option) *Executor {
	e := &Executor{
		descriptor:     descriptor,
		deps:           deps,
		callbacks:      callbacks,
		confirmTimeout: DefaultConfirmTimeout,
		probeTimeout:   DefaultProbeTimeout,
		explorer:       web3.DefaultExplorer,
		log:            logger.Named("executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExplorerLink returns the explorer URL for sig.
func (e *Executor) ExplorerLink(sig solana.Signature) string {
	return e.explorer + sig.String()
}

// Run executes the descriptor once. The second return value is false when a
// previous call already took the latch; no callback fires in that case.
func (e *Executor) Run(ctx context.Context) (action.Outcome, bool) {
	if !e.started.CompareAndSwap(false, true) {
		e.log.Debug("execution already started, skipping", slog.String("descriptor_id", e.descriptor.ID))
		return action.Outcome{}, false
	}

	start := time.Now()
	outcome := e.execute(ctx)
	outcome.DescriptorID = e.descriptor.ID
	outcome.Kind = e.descriptor.Kind
	outcome.FinishedAt = time.Now().UTC()

	e.report(ctx, outcome, time.Since(start))
	if outcome.Succeeded() {
		if e.callbacks.OnSuccess != nil {
			e.callbacks.OnSuccess(outcome)
		}
	} else if e.callbacks.OnCancel != nil {
		e.callbacks.OnCancel(outcome)
	}
	return outcome, true
}

func (e *Executor) execute(ctx context.Context) action.Outcome {
	d := e.descriptor
	switch {
	case d.Transfer != nil && d.Swap == nil:
		return e.transfer(ctx, d.Transfer)
	case d.Swap != nil && d.Transfer == nil:
		return e.swap(ctx, d.Swap)
	default:
		return rejected(xerrors.New(xerrors.CodeMalformedDescriptor, "descriptor carries neither a transfer nor a swap"))
	}
}

func (e *Executor) transfer(ctx context.Context, t *action.Transfer) action.Outcome {
	to, err := t.DestinationKey()
	if err != nil {
		return rejected(err)
	}
	if e.deps.Transfers == nil {
		return rejected(xerrors.New(xerrors.CodeCapabilityUnavailable, ""))
	}

	sig, err := e.deps.Transfers.SubmitTransfer(ctx, to, t.AmountLamports)
	if err == nil {
		return action.Outcome{Status: action.StatusConfirmed, Signature: sig}
	}

	switch {
	case errors.Is(err, web3sol.ErrTransactionFailed):
		return action.Outcome{Status: action.StatusRejected, Signature: sig,
			Reason: xerrors.Wrap(xerrors.CodeOnChainRejection, err, "", xerrors.WithMetadata("signature", sig.String()))}
	case !sig.IsZero():
		return action.Outcome{Status: action.StatusUnresolved, Signature: sig,
			Reason: xerrors.Wrap(xerrors.CodeConfirmationAmbiguous, err, "", xerrors.WithMetadata("signature", sig.String()))}
	default:
		return rejected(sendError(err))
	}
}

func (e *Executor) swap(ctx context.Context, s *action.Swap) action.Outcome {
	w, ok := e.wallet()
	if !ok {
		return rejected(xerrors.New(xerrors.CodeCapabilityUnavailable, ""))
	}

	tx, err := web3sol.DecodeTransaction(s.EncodedTransaction)
	if err != nil {
		return rejected(xerrors.Wrap(xerrors.CodeMalformedDescriptor, err, "swap transaction could not be decoded"))
	}

	if e.deps.Connector == nil {
		return rejected(xerrors.New(xerrors.CodeTransportFailure, "ledger connection not configured"))
	}
	ledger, err := e.deps.Connector.Connect(ctx)
	if err != nil {
		return rejected(xerrors.Wrap(xerrors.CodeTransportFailure, err, "connect to ledger"))
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			e.log.Debug("close ledger connection", slog.Any("error", cerr))
		}
	}()

	sig, err := w.SignAndSendTransaction(ctx, tx, web3.SendOptions{SkipPreflight: true})
	if err != nil {
		return rejected(sendError(err))
	}
	e.log.Info("swap broadcast", slog.String("descriptor_id", e.descriptor.ID), slog.String("signature", sig.String()))

	return e.reconcile(ctx, ledger, sig)
}

func (e *Executor) wallet() (wallet.Capability, bool) {
	if e.deps.Wallets == nil {
		return nil, false
	}
	w, ok := e.deps.Wallets.Wallet()
	if !ok || w == nil || !w.Connected() {
		return nil, false
	}
	return w, true
}

// reconcile awaits "confirmed" within the confirm bound, then falls back to a
// single status probe when the confirmation channel itself failed.
func (e *Executor) reconcile(ctx context.Context, ledger web3.Ledger, sig solana.Signature) action.Outcome {
	conf, err := e.confirm(ctx, ledger, sig)
	if err == nil {
		if conf.Failed() {
			return action.Outcome{Status: action.StatusRejected, Signature: sig,
				Reason: xerrors.New(xerrors.CodeOnChainRejection, "",
					xerrors.WithMetadata("signature", sig.String()),
					xerrors.WithMetadata("chain_error", describe(conf.Err)))}
		}
		return action.Outcome{Status: action.StatusConfirmed, Signature: sig}
	}

	e.log.Warn("confirmation failed, probing signature status",
		slog.String("signature", sig.String()), slog.Any("error", err))

	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	status, perr := ledger.SignatureStatus(probeCtx, sig)
	if perr == nil && status.Reaches(web3.StatusConfirmed) {
		return action.Outcome{Status: action.StatusLikelyConfirmed, Signature: sig}
	}

	if perr != nil {
		err = errors.Join(err, perr)
	}
	e.log.Warn("transaction status unresolved, verify manually",
		slog.String("signature", sig.String()),
		slog.String("status", string(status)),
		slog.String("explorer", e.ExplorerLink(sig)))
	return action.Outcome{Status: action.StatusUnresolved, Signature: sig,
		Reason: xerrors.Wrap(xerrors.CodeConfirmationAmbiguous, err, "",
			xerrors.WithMetadata("signature", sig.String()),
			xerrors.WithMetadata("explorer", e.ExplorerLink(sig)))}
}

func (e *Executor) confirm(ctx context.Context, ledger web3.Ledger, sig solana.Signature) (web3.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	window, err := ledger.LatestBlockhash(ctx)
	if err != nil {
		return web3.Confirmation{}, err
	}
	return ledger.ConfirmTransaction(ctx, sig, window, web3.StatusConfirmed)
}

func (e *Executor) report(ctx context.Context, outcome action.Outcome, elapsed time.Duration) {
	attrs := []any{
		slog.String("descriptor_id", outcome.DescriptorID),
		slog.String("kind", string(outcome.Kind)),
		slog.String("status", string(outcome.Status)),
		slog.Duration("elapsed", elapsed),
	}
	if outcome.HasSignature() {
		attrs = append(attrs, slog.String("signature", outcome.Signature.String()))
	}
	if outcome.Reason != nil {
		attrs = append(attrs, slog.String("code", string(xerrors.CodeOf(outcome.Reason))), slog.Any("error", outcome.Reason))
		e.log.Warn("execution cancelled", attrs...)
	} else {
		e.log.Info("execution succeeded", attrs...)
	}

	if e.recorder != nil {
		e.recorder.ObserveExecution(string(outcome.Kind), string(outcome.Status), elapsed)
	}
	if e.dispatcher != nil {
		if err := e.dispatcher.Notify(context.WithoutCancel(ctx), e.event(outcome)); err != nil {
			e.log.Warn("dispatch outcome event", slog.Any("error", err))
		}
	}
}

func (e *Executor) event(outcome action.Outcome) events.Event {
	ev := events.Event{
		Type:         events.TypeTransactionOutcome,
		DescriptorID: outcome.DescriptorID,
		Kind:         string(outcome.Kind),
		Status:       string(outcome.Status),
		OccurredAt:   outcome.FinishedAt,
	}
	if outcome.HasSignature() {
		ev.Signature = outcome.Signature.String()
		ev.Explorer = e.ExplorerLink(outcome.Signature)
	}
	if outcome.Reason != nil {
		ev.Code = xerrors.CodeOf(outcome.Reason)
		ev.Message = outcome.Reason.Error()
		ev.Severity = xerrors.SeverityOf(outcome.Reason)
		ev.Retryable = xerrors.RetryableError(outcome.Reason)
		ev.Alert = xerrors.ShouldAlert(outcome.Reason)
		if xe, ok := xerrors.From(outcome.Reason); ok {
			ev.Metadata = xe.Metadata()
		}
	}
	return ev
}

func rejected(err error) action.Outcome {
	return action.Outcome{Status: action.StatusRejected, Reason: err}
}

// sendError maps a wallet or transport failure that happened before any
// broadcast.
func sendError(err error) error {
	switch {
	case errors.Is(err, wallet.ErrVersionedUnsupported):
		return xerrors.Wrap(xerrors.CodeUpgradeRequired, err, "")
	case errors.Is(err, wallet.ErrUserRejected):
		return xerrors.Wrap(xerrors.CodeWalletRejected, err, "")
	case errors.Is(err, wallet.ErrNotConnected):
		return xerrors.Wrap(xerrors.CodeCapabilityUnavailable, err, "")
	case errors.Is(err, context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeTimeout, err, "")
	default:
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "")
	}
}

func describe(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
