package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cryptonite/internal/action"
	xerrors "cryptonite/internal/errors"
	"cryptonite/internal/events"
	"cryptonite/internal/wallet"
	"cryptonite/internal/web3"
	web3sol "cryptonite/internal/web3/solana"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWallet struct {
	addr      solana.PublicKey
	connected bool
	err       error
	calls     atomic.Int32
	opts      web3.SendOptions
}

func (w *fakeWallet) Address() solana.PublicKey { return w.addr }
func (w *fakeWallet) Connected() bool           { return w.connected }

func (w *fakeWallet) SignAndSendTransaction(_ context.Context, _ *solana.Transaction, opts web3.SendOptions) (solana.Signature, error) {
	w.calls.Add(1)
	w.opts = opts
	if w.err != nil {
		return solana.Signature{}, w.err
	}
	return solana.Signature{1, 2, 3}, nil
}

type fakeLedger struct {
	blockhashErr error
	confirm      web3.Confirmation
	confirmErr   error
	confirmHangs bool
	status       web3.ConfirmationStatus
	statusErr    error

	confirmCalls atomic.Int32
	probeCalls   atomic.Int32
	closed       atomic.Bool
}

func (l *fakeLedger) LatestBlockhash(context.Context) (web3.BlockhashWindow, error) {
	if l.blockhashErr != nil {
		return web3.BlockhashWindow{}, l.blockhashErr
	}
	return web3.BlockhashWindow{LastValidBlockHeight: 100}, nil
}

func (l *fakeLedger) ConfirmTransaction(ctx context.Context, _ solana.Signature, _ web3.BlockhashWindow, commitment web3.ConfirmationStatus) (web3.Confirmation, error) {
	l.confirmCalls.Add(1)
	if commitment != web3.StatusConfirmed {
		return web3.Confirmation{}, errors.New("unexpected commitment")
	}
	if l.confirmHangs {
		<-ctx.Done()
		return web3.Confirmation{}, ctx.Err()
	}
	return l.confirm, l.confirmErr
}

func (l *fakeLedger) SignatureStatus(context.Context, solana.Signature) (web3.ConfirmationStatus, error) {
	l.probeCalls.Add(1)
	return l.status, l.statusErr
}

func (l *fakeLedger) Close() error {
	l.closed.Store(true)
	return nil
}

type fakeConnector struct {
	ledger *fakeLedger
	err    error
	calls  atomic.Int32
}

func (c *fakeConnector) Connect(context.Context) (web3.Ledger, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.ledger, nil
}

type fakeTransfers struct {
	sig   solana.Signature
	err   error
	calls atomic.Int32
	to    solana.PublicKey
	gate  chan struct{}
}

func (f *fakeTransfers) SubmitTransfer(_ context.Context, to solana.PublicKey, _ uint64) (solana.Signature, error) {
	f.calls.Add(1)
	f.to = to
	if f.gate != nil {
		<-f.gate
	}
	return f.sig, f.err
}

type recorded struct {
	mu       sync.Mutex
	success  []action.Outcome
	cancel   []action.Outcome
	observed []string
	events   []events.Event
}

func (r *recorded) callbacks() Callbacks {
	return Callbacks{
		OnSuccess: func(o action.Outcome) { r.mu.Lock(); r.success = append(r.success, o); r.mu.Unlock() },
		OnCancel:  func(o action.Outcome) { r.mu.Lock(); r.cancel = append(r.cancel, o); r.mu.Unlock() },
	}
}

func (r *recorded) ObserveExecution(kind, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, kind+"/"+status)
}

func (r *recorded) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

const destination = "11111111111111111111111111111111"

// swapPayload encodes an unsigned legacy transaction whose fee payer is
// owner, with a zeroed signature slot as a backend would send it.
func swapPayload(t *testing.T, owner solana.PublicKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(5, owner, solana.NewWallet().PublicKey()).Build()},
		solana.Hash(solana.NewWallet().PublicKey()),
		solana.TransactionPayer(owner),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, 1)
	encoded, err := web3sol.EncodeTransaction(tx)
	require.NoError(t, err)
	return encoded
}

type swapFixture struct {
	wallet    *fakeWallet
	ledger    *fakeLedger
	connector *fakeConnector
	rec       *recorded
}

func newSwapFixture() *swapFixture {
	ledger := &fakeLedger{confirm: web3.Confirmation{Status: web3.StatusConfirmed}}
	return &swapFixture{
		wallet:    &fakeWallet{addr: solana.NewWallet().PublicKey(), connected: true},
		ledger:    ledger,
		connector: &fakeConnector{ledger: ledger},
		rec:       &recorded{},
	}
}

func (f *swapFixture) run(t *testing.T, d action.Descriptor, opts ...Option) action.Outcome {
	t.Helper()
	deps := Dependencies{Wallets: wallet.StaticLookup{Capability: f.wallet}, Connector: f.connector}
	opts = append([]Option{WithRecorder(f.rec), WithDispatcher(f.rec)}, opts...)
	outcome, ran := New(d, deps, f.rec.callbacks(), opts...).Run(context.Background())
	require.True(t, ran)
	return outcome
}

func (f *swapFixture) descriptor(t *testing.T) action.Descriptor {
	return action.NewSwap(swapPayload(t, f.wallet.addr), "BONK", 1)
}

func TestRunTakesLatchOnce(t *testing.T) {
	transfers := &fakeTransfers{sig: solana.Signature{9}, gate: make(chan struct{})}
	rec := &recorded{}
	exec := New(action.NewTransfer(destination, 10_000_000), Dependencies{Transfers: transfers}, rec.callbacks())

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ran := exec.Run(context.Background())
			results <- ran
		}()
	}
	// One caller is parked in SubmitTransfer; the other must return skipped.
	assert.False(t, <-results)
	close(transfers.gate)
	wg.Wait()
	assert.True(t, <-results)

	assert.Equal(t, int32(1), transfers.calls.Load())
	assert.Len(t, rec.success, 1)
	assert.Empty(t, rec.cancel)

	_, ran := exec.Run(context.Background())
	assert.False(t, ran)
	assert.Len(t, rec.success, 1)
}

func TestTransferMissingFieldsCancelsWithoutNetwork(t *testing.T) {
	cases := map[string]action.Descriptor{
		"no destination": {ID: "a", Kind: action.KindTransfer, Transfer: &action.Transfer{AmountLamports: 5}},
		"no amount":      {ID: "b", Kind: action.KindTransfer, Transfer: &action.Transfer{Destination: destination}},
		"bad address":    {ID: "c", Kind: action.KindTransfer, Transfer: &action.Transfer{Destination: "not-a-key", AmountLamports: 5}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			transfers := &fakeTransfers{}
			rec := &recorded{}
			outcome, ran := New(d, Dependencies{Transfers: transfers}, rec.callbacks()).Run(context.Background())
			require.True(t, ran)
			assert.Equal(t, action.StatusRejected, outcome.Status)
			assert.Equal(t, xerrors.CodeMalformedDescriptor, xerrors.CodeOf(outcome.Reason))
			assert.Zero(t, transfers.calls.Load())
			assert.Len(t, rec.cancel, 1)
		})
	}
}

func TestTransferOutcomes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		transfers := &fakeTransfers{sig: solana.Signature{7}}
		rec := &recorded{}
		outcome, _ := New(action.NewTransfer(destination, 10_000_000), Dependencies{Transfers: transfers}, rec.callbacks()).Run(context.Background())
		assert.Equal(t, action.StatusConfirmed, outcome.Status)
		assert.Equal(t, solana.SystemProgramID, transfers.to)
		assert.Len(t, rec.success, 1)
	})

	cases := []struct {
		name   string
		sig    solana.Signature
		err    error
		status action.Status
		code   xerrors.Code
	}{
		{"rejected by user", solana.Signature{}, wallet.ErrUserRejected, action.StatusRejected, xerrors.CodeWalletRejected},
		{"transport", solana.Signature{}, errors.New("rpc down"), action.StatusRejected, xerrors.CodeTransportFailure},
		{"on chain", solana.Signature{4}, web3sol.ErrTransactionFailed, action.StatusRejected, xerrors.CodeOnChainRejection},
		{"confirm lost", solana.Signature{4}, context.DeadlineExceeded, action.StatusUnresolved, xerrors.CodeConfirmationAmbiguous},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transfers := &fakeTransfers{sig: tc.sig, err: tc.err}
			rec := &recorded{}
			outcome, _ := New(action.NewTransfer(destination, 1), Dependencies{Transfers: transfers}, rec.callbacks()).Run(context.Background())
			assert.Equal(t, tc.status, outcome.Status)
			assert.Equal(t, tc.code, xerrors.CodeOf(outcome.Reason))
			assert.Len(t, rec.cancel, 1)
			assert.Equal(t, int32(1), transfers.calls.Load(), "never retried")
		})
	}
}

func TestSwapInvalidPayloadCancelsBeforeWallet(t *testing.T) {
	f := newSwapFixture()
	outcome := f.run(t, action.NewSwap("%%% not base64 %%%", "BONK", 1))

	assert.Equal(t, action.StatusRejected, outcome.Status)
	assert.Equal(t, xerrors.CodeMalformedDescriptor, xerrors.CodeOf(outcome.Reason))
	assert.Zero(t, f.wallet.calls.Load())
	assert.Zero(t, f.connector.calls.Load())
	assert.Len(t, f.rec.cancel, 1)
}

func TestSwapRequiresConnectedWallet(t *testing.T) {
	f := newSwapFixture()
	f.wallet.connected = false
	outcome := f.run(t, f.descriptor(t))
	assert.Equal(t, xerrors.CodeCapabilityUnavailable, xerrors.CodeOf(outcome.Reason))
	assert.Zero(t, f.wallet.calls.Load())

	rec := &recorded{}
	outcome, _ = New(f.descriptor(t), Dependencies{Connector: f.connector}, rec.callbacks()).Run(context.Background())
	assert.Equal(t, xerrors.CodeCapabilityUnavailable, xerrors.CodeOf(outcome.Reason))
	assert.Len(t, rec.cancel, 1)
	assert.Zero(t, f.connector.calls.Load())
}

func TestSwapWalletErrorSkipsConfirmation(t *testing.T) {
	cases := []struct {
		err  error
		code xerrors.Code
	}{
		{wallet.ErrVersionedUnsupported, xerrors.CodeUpgradeRequired},
		{wallet.ErrUserRejected, xerrors.CodeWalletRejected},
		{errors.New("extension crashed"), xerrors.CodeTransportFailure},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			f := newSwapFixture()
			f.wallet.err = tc.err
			outcome := f.run(t, f.descriptor(t))

			assert.Equal(t, action.StatusRejected, outcome.Status)
			assert.Equal(t, tc.code, xerrors.CodeOf(outcome.Reason))
			assert.Zero(t, f.ledger.confirmCalls.Load())
			assert.True(t, f.ledger.closed.Load())
			assert.Len(t, f.rec.cancel, 1)
			require.Len(t, f.rec.events, 1)
			assert.Equal(t, tc.code == xerrors.CodeTransportFailure, f.rec.events[0].Retryable)
		})
	}

	f := newSwapFixture()
	f.wallet.err = wallet.ErrVersionedUnsupported
	outcome := f.run(t, f.descriptor(t))
	e, ok := xerrors.From(outcome.Reason)
	require.True(t, ok)
	assert.Equal(t, "VersionedTransaction not supported by this wallet version. Please update your wallet.", e.Message())
}

func TestSwapConfirmed(t *testing.T) {
	f := newSwapFixture()
	outcome := f.run(t, f.descriptor(t))

	assert.Equal(t, action.StatusConfirmed, outcome.Status)
	assert.True(t, f.wallet.opts.SkipPreflight)
	assert.Equal(t, int32(1), f.ledger.confirmCalls.Load())
	assert.Zero(t, f.ledger.probeCalls.Load())
	assert.Len(t, f.rec.success, 1)
	assert.Equal(t, []string{"swap/confirmed"}, f.rec.observed)
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, web3.DefaultExplorer+outcome.Signature.String(), f.rec.events[0].Explorer)
}

func TestSwapOnChainErrorIsRejected(t *testing.T) {
	f := newSwapFixture()
	f.ledger.confirm = web3.Confirmation{Status: web3.StatusConfirmed, Err: map[string]any{"InstructionError": []any{0, "Custom"}}}
	outcome := f.run(t, f.descriptor(t))

	assert.Equal(t, action.StatusRejected, outcome.Status)
	assert.Equal(t, xerrors.CodeOnChainRejection, xerrors.CodeOf(outcome.Reason))
	assert.True(t, outcome.HasSignature())
	assert.Zero(t, f.ledger.probeCalls.Load())
	assert.Len(t, f.rec.cancel, 1)

	require.Len(t, f.rec.events, 1)
	ev := f.rec.events[0]
	assert.True(t, ev.Alert)
	assert.False(t, ev.Retryable)
	assert.Equal(t, xerrors.SeverityWarning, ev.Severity)
}

func TestSwapConfirmationFailureFallsBackToProbe(t *testing.T) {
	cases := []struct {
		name      string
		status    web3.ConfirmationStatus
		statusErr error
		want      action.Status
	}{
		{"probe confirmed", web3.StatusConfirmed, nil, action.StatusLikelyConfirmed},
		{"probe finalized", web3.StatusFinalized, nil, action.StatusLikelyConfirmed},
		{"probe processed", web3.StatusProcessed, nil, action.StatusUnresolved},
		{"probe unknown", web3.StatusUnknown, nil, action.StatusUnresolved},
		{"probe throws", web3.StatusUnknown, errors.New("rpc gone"), action.StatusUnresolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSwapFixture()
			f.ledger.confirmErr = errors.New("websocket closed")
			f.ledger.status = tc.status
			f.ledger.statusErr = tc.statusErr
			outcome := f.run(t, f.descriptor(t))

			assert.Equal(t, tc.want, outcome.Status)
			assert.Equal(t, int32(1), f.ledger.probeCalls.Load())
			if tc.want == action.StatusLikelyConfirmed {
				assert.Len(t, f.rec.success, 1)
				assert.Empty(t, f.rec.cancel)
				return
			}
			assert.Len(t, f.rec.cancel, 1)
			assert.Equal(t, xerrors.CodeConfirmationAmbiguous, xerrors.CodeOf(outcome.Reason))
			assert.Equal(t, web3.DefaultExplorer+outcome.Signature.String(), xerrors.MetadataValue(outcome.Reason, "explorer"))
		})
	}
}

func TestSwapConfirmationTimeoutIsBounded(t *testing.T) {
	f := newSwapFixture()
	f.ledger.confirmHangs = true
	f.ledger.status = web3.StatusFinalized

	start := time.Now()
	outcome := f.run(t, f.descriptor(t), WithConfirmTimeout(20*time.Millisecond), WithProbeTimeout(20*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, action.StatusLikelyConfirmed, outcome.Status)
}

func TestSwapBlockhashFailureProbes(t *testing.T) {
	f := newSwapFixture()
	f.ledger.blockhashErr = errors.New("node behind")
	f.ledger.status = web3.StatusProcessed
	outcome := f.run(t, f.descriptor(t))

	assert.Equal(t, action.StatusUnresolved, outcome.Status)
	assert.Zero(t, f.ledger.confirmCalls.Load())
	assert.Equal(t, int32(1), f.ledger.probeCalls.Load())
}

func TestSwapConnectFailure(t *testing.T) {
	f := newSwapFixture()
	f.connector.err = errors.New("dial tcp: refused")
	outcome := f.run(t, f.descriptor(t))

	assert.Equal(t, xerrors.CodeTransportFailure, xerrors.CodeOf(outcome.Reason))
	assert.Zero(t, f.wallet.calls.Load())
}

func TestShapelessDescriptorCancels(t *testing.T) {
	f := newSwapFixture()
	outcome := f.run(t, action.Descriptor{ID: "x"})
	assert.Equal(t, xerrors.CodeMalformedDescriptor, xerrors.CodeOf(outcome.Reason))

	both := action.NewTransfer(destination, 1)
	both.Swap = &action.Swap{EncodedTransaction: "AA=="}
	outcome = f.run(t, both)
	assert.Equal(t, xerrors.CodeMalformedDescriptor, xerrors.CodeOf(outcome.Reason))

	assert.Zero(t, f.wallet.calls.Load())
	assert.Zero(t, f.connector.calls.Load())
	assert.Len(t, f.rec.cancel, 2)
}
