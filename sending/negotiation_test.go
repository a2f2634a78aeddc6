package sending

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/payreq"
	"github.com/stretchr/testify/require"
)

const requestURL = "https://merchant.example/request/1"

// requestIntent returns a BIP21 intent pointing to a payment request. A
// zero amount leaves out the fallback output.
func requestIntent(t *testing.T, seed byte,
	amount btcutil.Amount) payintent.Intent {

	t.Helper()

	intent := payintent.Blank()
	if amount != 0 {
		intent = payTo(t, seed, amount)
	}
	intent.Standard = payintent.StandardBIP21
	intent.PaymentRequestURL = requestURL

	return intent
}

func TestNegotiationSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.gate = make(chan struct{})
	h.neg.replies = []negotiation{{
		intent: bip70Intent(t, 1, oneBTC/20),
	}}

	orig := requestIntent(t, 1, oneBTC/20)
	require.NoError(t, h.ctrl.Begin(orig, nil))

	snap := h.ctrl.Snapshot()
	require.Equal(t, StateRequestPaymentRequest, snap.State)
	require.Equal(t, "merchant.example", snap.Fetching)
	require.Equal(t, orig, snap.Intent)
	require.False(t, snap.CanConfirm)
	require.ErrorIs(t, h.ctrl.SetAmount(amountPtr(1)), ErrWrongState)

	close(h.neg.gate)
	snap = h.waitDryRun()
	require.Equal(t, StateInput, snap.State)
	require.Empty(t, snap.Fetching)
	require.Equal(t, payintent.StandardBIP70, snap.Intent.Standard)
	require.Equal(t, "merchant.example", snap.Intent.PayeeName)
	require.True(t, snap.DirectPayment)
	require.True(t, snap.CanConfirm)
}

func TestNegotiationMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.replies = []negotiation{{
		intent: bip70Intent(t, 2, oneBTC/20),
	}}

	orig := requestIntent(t, 1, oneBTC/20)
	require.NoError(t, h.ctrl.Begin(orig, nil))

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, StateRequestPaymentRequest, snap.State)
	require.Equal(t, PromptTrustFailure, snap.Prompt.Kind)
	require.Equal(t, []string{payreq.ReasonAddress}, snap.Prompt.Reasons)
	require.Equal(t, "merchant.example", snap.Prompt.Host)
	require.Equal(t,
		ErrorTrustVerificationFailure, snap.Prompt.Failure.Kind,
	)

	// Dismissing falls back to the original intent.
	require.NoError(t, h.ctrl.Answer(AnswerDismiss))
	snap = h.waitDryRun()
	require.Equal(t, StateInput, snap.State)
	require.Equal(t, orig, snap.Intent)
	require.Nil(t, snap.Prompt)
	require.True(t, snap.CanConfirm)
}

func TestNegotiationAmountMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.replies = []negotiation{{
		intent: bip70Intent(t, 1, oneBTC/10),
	}}
	require.NoError(t, h.ctrl.Begin(requestIntent(t, 1, oneBTC/20), nil))

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, []string{payreq.ReasonAmount}, snap.Prompt.Reasons)
}

func TestNegotiationVerificationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.replies = []negotiation{{
		err: &paymentproto.VerificationError{
			Err: errors.New("certificate expired"),
		},
	}}
	require.NoError(t, h.ctrl.Begin(requestIntent(t, 0, 0), nil))

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, PromptTrustFailure, snap.Prompt.Kind)
	require.Empty(t, snap.Prompt.Reasons)
	require.Equal(t,
		ErrorTrustVerificationFailure, snap.Prompt.Failure.Kind,
	)

	// Nothing is left to pay without the request.
	require.NoError(t, h.ctrl.Answer(AnswerDismiss))
	res := h.waitDone()
	require.True(t, res.Cancelled)
}

func TestNegotiationFetchRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.replies = []negotiation{{
		err: fmt.Errorf("%w: timeout", payreq.ErrFetchFailed),
	}, {
		intent: bip70Intent(t, 1, oneBTC/20),
	}}
	require.NoError(t, h.ctrl.Begin(requestIntent(t, 0, 0), nil))

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})
	require.Equal(t, PromptFetchFailure, snap.Prompt.Kind)
	require.Equal(t, ErrorTransportFailure, snap.Prompt.Failure.Kind)
	require.Equal(t, []Answer{AnswerRetry, AnswerDismiss},
		snap.Prompt.Answers)

	require.NoError(t, h.ctrl.Answer(AnswerRetry))
	snap = h.waitDryRun()
	require.Equal(t, StateInput, snap.State)
	require.Equal(t, payintent.StandardBIP70, snap.Intent.Standard)
	require.Equal(t, 2, h.neg.numCalls())
}

func TestNegotiationFetchDismiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.replies = []negotiation{{
		err: fmt.Errorf("%w: timeout", payreq.ErrFetchFailed),
	}}

	orig := requestIntent(t, 1, oneBTC/20)
	require.NoError(t, h.ctrl.Begin(orig, nil))
	h.waitFor(func(s Snapshot) bool {
		return s.Prompt != nil
	})

	require.NoError(t, h.ctrl.Answer(AnswerDismiss))
	snap := h.ctrl.Snapshot()
	require.Equal(t, StateInput, snap.State)
	require.Equal(t, orig, snap.Intent)
}

func TestNegotiationCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10))
	h.neg.gate = make(chan struct{})
	h.neg.replies = []negotiation{{
		intent: bip70Intent(t, 1, oneBTC/20),
	}}
	require.NoError(t, h.ctrl.Begin(requestIntent(t, 1, oneBTC/20), nil))

	require.NoError(t, h.ctrl.Cancel())
	require.True(t, h.waitDone().Cancelled)

	// A late reply is ignored.
	close(h.neg.gate)
	require.Never(t, func() bool {
		return h.ctrl.Snapshot().State != StateRequestPaymentRequest
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNegotiationWithoutNegotiator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeWallet(t, oneBTC/10), func(cfg *Config) {
		cfg.Negotiator = nil
	})
	err := h.ctrl.Begin(requestIntent(t, 0, 0), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
