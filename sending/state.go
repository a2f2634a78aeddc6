package sending

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// State is the state of the send workflow.
type State uint8

const (
	// StateUnset is the state before an intent is resolved.
	StateUnset State = iota

	// StateRequestPaymentRequest is fetching and verifying a payment
	// request.
	StateRequestPaymentRequest

	// StateInput is editable and awaiting confirmation.
	StateInput

	// StateDecrypting is deriving the spending key.
	StateDecrypting

	// StateSigning is building and signing the transaction.
	StateSigning

	// StateSending is waiting for the network to accept the
	// transaction.
	StateSending

	// StateSent is the terminal success state.
	StateSent

	// StateFailed is the terminal failure state.
	StateFailed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateRequestPaymentRequest:
		return "REQUEST_PAYMENT_REQUEST"
	case StateInput:
		return "INPUT"
	case StateDecrypting:
		return "DECRYPTING"
	case StateSigning:
		return "SIGNING"
	case StateSending:
		return "SENDING"
	case StateSent:
		return "SENT"
	case StateFailed:
		return "FAILED"
	default:
		return "UNSET"
	}
}

// AckState is the outcome of direct payment delivery.
type AckState uint8

const (
	// AckNotAttempted means no answer was received.
	AckNotAttempted AckState = iota

	// AckReceived means the payee accepted the payment.
	AckReceived

	// AckRejected means the payee refused the payment.
	AckRejected
)

// String returns the name of the ack state.
func (a AckState) String() string {
	switch a {
	case AckReceived:
		return "ack"
	case AckRejected:
		return "nack"
	default:
		return "not_attempted"
	}
}

// ValidatedAddress is an address the payer entered, with its display label.
type ValidatedAddress struct {
	// Address is the parsed address.
	Address btcutil.Address

	// Label is the address book label, or the label the address came
	// with if the address book has none.
	Label string
}

// HintKind describes the outcome of the latest dry run.
type HintKind uint8

const (
	// HintNone means nothing to show.
	HintNone HintKind = iota

	// HintFee shows the fee of a successful dry run.
	HintFee

	// HintDusty means the amount is too small.
	HintDusty

	// HintInsufficientFunds shows how much is missing.
	HintInsufficientFunds

	// HintEmptyWalletFailed means emptying the wallet leaves nothing.
	HintEmptyWalletFailed

	// HintInvalidAddress means the address text does not parse.
	HintInvalidAddress
)

// Hint is the message shown below the payment form.
type Hint struct {
	Kind HintKind

	// Fee is the fee of the dry run, for HintFee.
	Fee btcutil.Amount

	// Missing and Pending are set for HintInsufficientFunds.
	Missing btcutil.Amount
	Pending btcutil.Amount
}

// DryRun is the outcome of the most recent dry run.
type DryRun struct {
	// Fee and Amount are set when the dry run succeeded.
	Fee    btcutil.Amount
	Amount btcutil.Amount

	// FeePreview holds the fee of the same payment at every fee
	// category.
	FeePreview map[feetable.Category]btcutil.Amount

	// Failure is set when the dry run failed.
	Failure *Failure
}

// OK reports whether the dry run succeeded.
func (d *DryRun) OK() bool {
	return d != nil && d.Failure == nil
}

// PromptKind selects a question the payer must answer.
type PromptKind uint8

const (
	// PromptSignificantFee asks to accept a fee above the amount.
	PromptSignificantFee PromptKind = iota + 1

	// PromptInsufficientFunds reports missing funds and may offer to
	// empty the wallet instead.
	PromptInsufficientFunds

	// PromptTrustFailure reports a payment request that cannot be
	// trusted.
	PromptTrustFailure

	// PromptFetchFailure reports a payment request that could not be
	// fetched.
	PromptFetchFailure

	// PromptDeliveryFailure reports a payment that could not be
	// delivered to the payee.
	PromptDeliveryFailure
)

// Answer is the payer's reply to a prompt.
type Answer uint8

const (
	// AnswerAccept accepts a significant fee.
	AnswerAccept Answer = iota + 1

	// AnswerDecline declines a significant fee.
	AnswerDecline

	// AnswerRetry retries a failed fetch or delivery.
	AnswerRetry

	// AnswerDismiss dismisses the prompt.
	AnswerDismiss

	// AnswerEmptyWallet switches to emptying the wallet.
	AnswerEmptyWallet
)

// Prompt is a question shown to the payer.
type Prompt struct {
	Kind PromptKind

	// Host is the payee host for negotiation and delivery prompts.
	Host string

	// Reasons lists why a payment request does not match the intent.
	Reasons []string

	// Fee and Amount are set for PromptSignificantFee.
	Fee    btcutil.Amount
	Amount btcutil.Amount

	// Failure is the failure that caused the prompt, if any.
	Failure *Failure

	// Answers are the replies the prompt accepts.
	Answers []Answer
}

func (p *Prompt) accepts(a Answer) bool {
	for _, answer := range p.Answers {
		if answer == a {
			return true
		}
	}

	return false
}

// Snapshot is an immutable view of the workflow.
type Snapshot struct {
	State State

	// Intent is the current payment intent.
	Intent payintent.Intent

	// Address is the address the payer entered, if the intent lets
	// them.
	Address *ValidatedAddress

	// OwnAddress is set when the payment goes back to this wallet.
	OwnAddress bool

	// Amount is the amount the payer entered, if the intent lets them.
	Amount *btcutil.Amount

	// EmptyWallet is set when the payer sends everything.
	EmptyWallet bool

	// FeeCategory is the selected fee category.
	FeeCategory feetable.Category

	// DryRun is the outcome of the latest dry run.
	DryRun *DryRun

	// Hint describes the latest dry run or address input.
	Hint Hint

	// BadPassword is set after a wrong passphrase until it is edited.
	BadPassword bool

	// DirectPayment is set when the payment will be delivered to the
	// payee.
	DirectPayment bool

	// Ack is the outcome of direct payment delivery.
	Ack AckState

	// SentTx is the signed transaction once built.
	SentTx *wire.MsgTx

	// Fetching names the host a payment request is being fetched from.
	Fetching string

	// Prompt is the question awaiting an answer.
	Prompt *Prompt

	// Failure is the most recent failure.
	Failure *Failure

	// CanConfirm reports whether Confirm would be accepted.
	CanConfirm bool
}

// Clone returns a deep copy of the snapshot, so readers can't modify the
// controller's copy or each other's.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Intent = s.Intent.Clone()
	c.Failure = s.Failure.clone()

	if s.Address != nil {
		addr := *s.Address
		c.Address = &addr
	}
	if s.Amount != nil {
		amount := *s.Amount
		c.Amount = &amount
	}
	if s.DryRun != nil {
		dryRun := *s.DryRun
		dryRun.FeePreview = maps.Clone(s.DryRun.FeePreview)
		dryRun.Failure = s.DryRun.Failure.clone()
		c.DryRun = &dryRun
	}
	if s.SentTx != nil {
		c.SentTx = s.SentTx.Copy()
	}
	if s.Prompt != nil {
		prompt := *s.Prompt
		prompt.Reasons = slices.Clone(s.Prompt.Reasons)
		prompt.Answers = slices.Clone(s.Prompt.Answers)
		prompt.Failure = s.Prompt.Failure.clone()
		c.Prompt = &prompt
	}

	return c
}

// Result is reported to whoever began the workflow.
type Result struct {
	// Cancelled is set when the payment was abandoned before it was
	// broadcast.
	Cancelled bool

	// TxHash is the hash of the broadcast transaction.
	TxHash *chainhash.Hash

	// Payment is the serialized payment message for payment protocol
	// intents.
	Payment []byte

	// Err is set when the workflow failed.
	Err error
}
