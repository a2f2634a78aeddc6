package sending

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/directpay"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/stretchr/testify/require"
)

const merchantURL = "https://merchant.example/pay"

func bip70Intent(t *testing.T, seed byte,
	amount btcutil.Amount) payintent.Intent {

	t.Helper()

	intent := payTo(t, seed, amount)
	intent.Standard = payintent.StandardBIP70
	intent.PayeeName = "merchant.example"
	intent.PaymentURL = merchantURL
	intent.PayeeData = []byte("order-1")

	return intent
}

func (h *harness) waitPublished() *wire.MsgTx {
	h.t.Helper()

	select {
	case tx := <-h.bcast.published:
		return tx
	case <-time.After(5 * time.Second):
		h.t.Fatal("transaction not published")
		return nil
	}
}

// confirmed begins a payment of intent and confirms it once the dry run
// settled.
func (h *harness) confirmed(intent payintent.Intent) Snapshot {
	h.t.Helper()

	require.NoError(h.t, h.ctrl.Begin(intent, nil))
	snap := h.waitDryRun()
	require.True(h.t, snap.CanConfirm)
	require.NoError(h.t, h.ctrl.Confirm())

	return snap
}

func TestSendUnencrypted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.confirmed(payTo(t, 1, oneBTC/20))

	tx := h.waitPublished()
	snap := h.waitState(StateSending)
	require.Equal(t, tx.TxHash(), snap.SentTx.TxHash())
	require.Equal(t, 1, h.wallet.numCommits())

	// A single peer is not enough.
	h.bcast.conf <- wallet.Confidence{
		Type:           wallet.ConfidencePending,
		BroadcastPeers: 1,
	}
	require.Never(t, func() bool {
		return h.ctrl.Snapshot().State != StateSending
	}, 100*time.Millisecond, 10*time.Millisecond)

	h.bcast.conf <- wallet.Confidence{Type: wallet.ConfidenceBuilding}
	h.waitState(StateSent)

	require.NoError(t, h.ctrl.Cancel())
	res := h.waitDone()
	require.False(t, res.Cancelled)
	require.NoError(t, res.Err)
	require.Nil(t, res.Payment)
	require.Equal(t, tx.TxHash(), *res.TxHash)
}

func TestSentOnPeers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.confirmed(payTo(t, 1, oneBTC/20))
	h.waitState(StateSending)

	h.bcast.conf <- wallet.Confidence{
		Type:           wallet.ConfidencePending,
		BroadcastPeers: minBroadcastPeers,
	}
	h.waitState(StateSent)
}

func TestWrongPassword(t *testing.T) {
	t.Parallel()

	w := newFakeWallet(t, oneBTC/10)
	w.encrypted = true
	w.passphrase = "secret"
	w.deriveGate = make(chan struct{})

	h := newHarness(t, w)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Begin(payintent.Blank(), nil))
	require.NoError(t, h.ctrl.SetAddress(
		ctx, testAddress(t, 1).EncodeAddress(), "Shop",
	))
	require.NoError(t, h.ctrl.SetAmount(amountPtr(oneBTC/20)))
	require.NoError(t, h.ctrl.SetPassword("wrong"))
	h.waitDryRun()
	require.NoError(t, h.ctrl.Confirm())

	snap := h.ctrl.Snapshot()
	require.Equal(t, StateDecrypting, snap.State)
	require.False(t, snap.CanConfirm)
	require.ErrorIs(t, h.ctrl.Cancel(), ErrBusy)
	require.ErrorIs(t, h.ctrl.SetAmount(amountPtr(1)), ErrWrongState)

	close(w.deriveGate)
	snap = h.waitFor(func(s Snapshot) bool {
		return s.State == StateInput && s.BadPassword
	})
	require.Equal(t, ErrorInvalidEncryptionKey, snap.Failure.Kind)
	require.Zero(t, w.numCommits())

	// Everything else the payer entered is kept.
	require.Equal(t, "Shop", snap.Address.Label)
	require.Equal(t, oneBTC/20, *snap.Amount)

	require.NoError(t, h.ctrl.SetPassword("secret"))
	require.False(t, h.ctrl.Snapshot().BadPassword)
	require.NoError(t, h.ctrl.Confirm())

	h.waitPublished()
	h.waitState(StateSending)
	require.Equal(t, 1, w.numCommits())
}

func TestKeyUpgrade(t *testing.T) {
	t.Parallel()

	w := newFakeWallet(t, oneBTC/10)
	w.encrypted = true
	w.passphrase = "secret"
	w.upgrade = true

	var upgraded int32
	h := newHarness(t, w, func(cfg *Config) {
		cfg.OnKeyUpgraded = func() {
			atomic.AddInt32(&upgraded, 1)
		}
	})

	require.NoError(t, h.ctrl.Begin(payTo(t, 1, oneBTC/20), nil))
	require.NoError(t, h.ctrl.SetPassword("secret"))
	h.waitDryRun()
	require.NoError(t, h.ctrl.Confirm())

	h.waitState(StateSending)
	require.EqualValues(t, 1, atomic.LoadInt32(&upgraded))
}

// expensiveFees makes the fee of a one input payment exceed 100k sat.
func expensiveFees(cfg *Config) {
	cfg.FeeTable = feetable.Static{
		feetable.CategoryNormal: 1_000_000,
	}
}

func TestSignificantFee(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10), expensiveFees)
	snap := h.confirmed(payTo(t, 1, 100_000))
	require.Greater(t, snap.DryRun.Fee, btcutil.Amount(100_000))

	snap = h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, StateSigning, snap.State)
	require.Equal(t, PromptSignificantFee, snap.Prompt.Kind)
	require.Equal(t, snap.DryRun.Fee, snap.Prompt.Fee)
	require.Equal(t, btcutil.Amount(100_000), snap.Prompt.Amount)
	require.Equal(t,
		[]Answer{AnswerAccept, AnswerDecline}, snap.Prompt.Answers,
	)
	require.False(t, snap.CanConfirm)
	require.ErrorIs(t, h.ctrl.Answer(AnswerRetry), ErrNoPrompt)

	require.NoError(t, h.ctrl.Answer(AnswerDecline))
	snap = h.ctrl.Snapshot()
	require.Equal(t, StateInput, snap.State)
	require.Nil(t, snap.Prompt)
	require.Zero(t, h.wallet.numCommits())

	require.NoError(t, h.ctrl.Confirm())
	h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.NoError(t, h.ctrl.Answer(AnswerAccept))

	h.waitPublished()
	h.waitState(StateSending)
	require.Equal(t, 1, h.wallet.numCommits())
}

func TestSignificantFeeCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10), expensiveFees)
	h.confirmed(payTo(t, 1, 100_000))
	h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})

	require.NoError(t, h.ctrl.Cancel())
	require.True(t, h.waitDone().Cancelled)
	require.Zero(t, h.wallet.numCommits())
}

// TestConfirmAwaitsDryRun checks that a payment can't be confirmed before
// its fee is known, so an expensive fee always raises the prompt.
func TestConfirmAwaitsDryRun(t *testing.T) {
	t.Parallel()

	const amount = 100_000

	est := &gatedEstimator{
		inner: dryrun.NewEstimator(nil),
		gates: map[int64]chan struct{}{
			amount: make(chan struct{}),
		},
		started: make(chan int64, 16),
	}
	h := newHarness(t, newFakeWallet(t, oneBTC/10), expensiveFees,
		func(cfg *Config) {
			cfg.Estimator = est
		},
	)

	require.NoError(t, h.ctrl.Begin(payTo(t, 1, amount), nil))
	select {
	case <-est.started:
	case <-time.After(5 * time.Second):
		t.Fatal("dry run did not start")
	}

	snap := h.ctrl.Snapshot()
	require.Equal(t, StateInput, snap.State)
	require.Nil(t, snap.DryRun)
	require.False(t, snap.CanConfirm)
	require.ErrorIs(t, h.ctrl.Confirm(), ErrConfirmRejected)
	require.Equal(t, StateInput, h.ctrl.Snapshot().State)

	close(est.gates[amount])
	snap = h.waitDryRun()
	require.True(t, snap.DryRun.OK())
	require.Greater(t, snap.DryRun.Fee, btcutil.Amount(amount))
	require.True(t, snap.CanConfirm)

	require.NoError(t, h.ctrl.Confirm())
	snap = h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, PromptSignificantFee, snap.Prompt.Kind)
	require.Zero(t, h.wallet.numCommits())
}

func TestInsufficientFundsAtSigning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	ctx := context.Background()

	require.NoError(t, h.ctrl.Begin(payintent.Blank(), nil))
	require.NoError(t, h.ctrl.SetAddress(
		ctx, testAddress(t, 1).EncodeAddress(), "",
	))
	require.NoError(t, h.ctrl.SetAmount(amountPtr(oneBTC/20)))
	h.waitDryRun()

	// The coins were spent elsewhere after the dry run.
	small := newFakeWallet(t, oneBTC/100)
	h.wallet.setCoins(small.coins)

	require.NoError(t, h.ctrl.Confirm())
	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, StateInput, snap.State)
	require.Equal(t, PromptInsufficientFunds, snap.Prompt.Kind)
	require.Equal(t, ErrorInsufficientFunds, snap.Prompt.Failure.Kind)
	require.Equal(t,
		[]Answer{AnswerEmptyWallet, AnswerDismiss}, snap.Prompt.Answers,
	)
	require.False(t, snap.CanConfirm)

	require.NoError(t, h.ctrl.Answer(AnswerEmptyWallet))
	snap = h.waitDryRun()
	require.True(t, snap.EmptyWallet)
	require.True(t, snap.DryRun.OK())
	require.Equal(t, oneBTC/100-snap.DryRun.Fee, snap.DryRun.Amount)
	require.ErrorIs(t, h.ctrl.Answer(AnswerDismiss), ErrNoPrompt)
}

func TestInsufficientFundsFixedAmount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	require.NoError(t, h.ctrl.Begin(payTo(t, 1, oneBTC/20), nil))
	h.waitDryRun()
	h.wallet.setCoins(nil)
	require.NoError(t, h.ctrl.Confirm())

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, []Answer{AnswerDismiss}, snap.Prompt.Answers)
	require.ErrorIs(t, h.ctrl.Answer(AnswerEmptyWallet), ErrNoPrompt)
	require.NoError(t, h.ctrl.Answer(AnswerDismiss))
	require.Equal(t, StateInput, h.ctrl.Snapshot().State)
}

func TestUnclassifiedFailure(t *testing.T) {
	t.Parallel()

	signErr := errors.New("disk full")
	w := newFakeWallet(t, oneBTC/10)
	w.signErr = signErr

	h := newHarness(t, w)
	h.confirmed(payTo(t, 1, oneBTC/20))

	snap := h.waitState(StateFailed)
	require.Equal(t, ErrorUnclassifiedBuildFailure, snap.Failure.Kind)
	require.False(t, snap.CanConfirm)

	require.NoError(t, h.ctrl.Cancel())
	res := h.waitDone()
	require.Nil(t, res.TxHash)
	require.ErrorIs(t, res.Err, signErr)
}

func TestDeadTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.confirmed(payTo(t, 1, oneBTC/20))
	h.waitState(StateSending)

	h.bcast.conf <- wallet.Confidence{Type: wallet.ConfidenceDead}
	h.waitState(StateFailed)

	require.NoError(t, h.ctrl.Cancel())
	res := h.waitDone()
	require.NotNil(t, res.TxHash)
	require.ErrorIs(t, res.Err, errTxDead)
}

// TestDirectPaymentNack checks that a nack arriving after the broadcast
// succeeded never reverts the payment.
func TestDirectPaymentNack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	snap := h.confirmed(bip70Intent(t, 1, oneBTC/20))
	require.True(t, snap.DirectPayment)

	tx := h.waitPublished()
	h.bcast.conf <- wallet.Confidence{Type: wallet.ConfidenceBuilding}
	h.waitState(StateSent)

	require.Eventually(t, func() bool {
		return h.dlv.numCalls() == 1
	}, 5*time.Second, 5*time.Millisecond)

	payment := h.dlv.last.Load()
	require.Equal(t, []byte("order-1"), payment.MerchantData)
	require.Len(t, payment.Transactions, 1)
	require.Len(t, payment.RefundTo, 1)
	require.EqualValues(t, oneBTC/20, payment.RefundTo[0].Amount)
	require.Equal(t, testScript(t, 0xee), payment.RefundTo[0].Script)

	h.dlv.replies <- delivery{ack: false}
	snap = h.waitFor(func(s Snapshot) bool {
		return s.Ack == AckRejected
	})
	require.Equal(t, StateSent, snap.State)

	require.NoError(t, h.ctrl.Cancel())
	res := h.waitDone()
	require.Equal(t, tx.TxHash(), *res.TxHash)
	require.Equal(t, payment.Marshal(), res.Payment)
}

func TestDirectPaymentAck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.confirmed(bip70Intent(t, 1, oneBTC/20))
	h.waitPublished()

	h.dlv.replies <- delivery{ack: true}
	snap := h.waitState(StateSent)
	require.Equal(t, AckReceived, snap.Ack)
}

func TestDirectPaymentRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.confirmed(bip70Intent(t, 1, oneBTC/20))
	h.waitPublished()

	h.dlv.replies <- delivery{
		err: fmt.Errorf("%w: connection refused",
			directpay.ErrDeliveryFailed),
	}
	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, PromptDeliveryFailure, snap.Prompt.Kind)
	require.Equal(t, "merchant.example", snap.Prompt.Host)
	require.Equal(t, ErrorTransportFailure, snap.Prompt.Failure.Kind)
	require.Equal(t, StateSending, snap.State)

	require.NoError(t, h.ctrl.Answer(AnswerRetry))
	h.dlv.replies <- delivery{ack: true}

	snap = h.waitState(StateSent)
	require.Equal(t, AckReceived, snap.Ack)
	require.Nil(t, snap.Prompt)
	require.Equal(t, 2, h.dlv.numCalls())
}

func TestDirectPaymentDisabled(t *testing.T) {
	t.Parallel()

	intent := payTo(t, 1, oneBTC/20)
	intent.PaymentURL = merchantURL

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	require.NoError(t, h.ctrl.Begin(intent, nil))
	require.True(t, h.ctrl.Snapshot().DirectPayment)
	require.NoError(t, h.ctrl.SetDirectPayment(false))

	h.waitDryRun()
	require.NoError(t, h.ctrl.Confirm())
	h.waitPublished()

	h.bcast.conf <- wallet.Confidence{Type: wallet.ConfidenceBuilding}
	snap := h.waitState(StateSent)
	require.Equal(t, AckNotAttempted, snap.Ack)
	require.Zero(t, h.dlv.numCalls())

	require.NoError(t, h.ctrl.Cancel())
	require.Nil(t, h.waitDone().Payment)
}

func TestAutoDismiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10), func(cfg *Config) {
		cfg.AutoDismissDelay = DefaultAutoDismissDelay
	})
	h.confirmed(payTo(t, 1, oneBTC/20))
	tx := h.waitPublished()

	select {
	case delay := <-h.ticks:
		require.Equal(t, DefaultAutoDismissDelay, delay)
	case <-time.After(5 * time.Second):
		t.Fatal("auto dismiss not scheduled")
	}

	h.clock.SetTime(testTime.Add(DefaultAutoDismissDelay))

	res := h.waitDone()
	require.False(t, res.Cancelled)
	require.Equal(t, tx.TxHash(), *res.TxHash)
}

func TestAutoDismissAfterFailedBroadcast(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10), func(cfg *Config) {
		cfg.AutoDismissDelay = DefaultAutoDismissDelay
	})
	h.bcast.publishErr = errors.New("no peers")

	h.confirmed(payTo(t, 1, oneBTC/20))
	tx := h.waitPublished()

	select {
	case delay := <-h.ticks:
		require.Equal(t, DefaultAutoDismissDelay, delay)
	case <-time.After(5 * time.Second):
		t.Fatal("auto dismiss not scheduled")
	}
	require.Equal(t, 1, h.wallet.numCommits())

	h.clock.SetTime(testTime.Add(DefaultAutoDismissDelay))

	res := h.waitDone()
	require.False(t, res.Cancelled)
	require.NoError(t, res.Err)
	require.Equal(t, tx.TxHash(), *res.TxHash)
}
