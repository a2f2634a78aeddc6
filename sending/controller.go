package sending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/lightninglabs/sendcoins/worker"
)

// errWrongNetwork is reported for addresses of another network.
var errWrongNetwork = errors.New("address is for another network")

// feeSubscriber is implemented by fee tables that announce updates.
type feeSubscriber interface {
	Subscribe() (<-chan struct{}, func())
}

// Controller runs the workflow of a single payment. All workflow state is
// owned by one goroutine; every public method hands its work to that
// goroutine, and background work reports back to it.
type Controller struct {
	cfg *Config

	queue    Queue
	ownQueue *worker.Queue

	events chan func()
	done   chan Result

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup

	feeCancel func()

	snapMu  sync.Mutex
	snap    Snapshot
	subs    map[uint64]chan Snapshot
	nextSub uint64

	// The fields below are only accessed by the event loop.
	state          State
	finished       bool
	intent         payintent.Intent
	original       payintent.Intent
	final          payintent.Intent
	address        *ValidatedAddress
	addressInvalid bool
	ownAddress     bool
	amount         *btcutil.Amount
	emptyWallet    bool
	category       feetable.Category
	password       string
	badPassword    bool
	key            wallet.EncryptionKey
	dryRun         *DryRun
	dryRunSeq      uint64
	directPayment  bool
	ack            AckState
	sentTx         *wire.MsgTx
	payment        *paymentproto.Payment
	fetching       string
	prompt         *Prompt
	failure        *Failure
	stopConfidence func()
}

// New creates a new Controller.
func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		queue:    cfg.Queue,
		events:   make(chan func()),
		done:     make(chan Result, 1),
		quit:     make(chan struct{}),
		subs:     make(map[uint64]chan Snapshot),
		category: feetable.CategoryNormal,
	}
	if c.queue == nil {
		c.ownQueue = worker.NewQueue()
		c.queue = c.ownQueue
	}
	c.snap = c.snapshot()

	return c, nil
}

// Start starts the controller.
func (c *Controller) Start() error {
	c.startOnce.Do(func() {
		if c.ownQueue != nil {
			c.ownQueue.Start()
		}

		c.wg.Add(1)
		go c.eventLoop()

		sub, ok := c.cfg.FeeTable.(feeSubscriber)
		if !ok {
			return
		}
		updates, cancel := sub.Subscribe()
		c.feeCancel = cancel

		c.wg.Add(1)
		go c.watchFees(updates)
	})

	return nil
}

// Stop stops the controller. Work already handed to the network is not
// undone.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		close(c.quit)
		if c.feeCancel != nil {
			c.feeCancel()
		}
		c.wg.Wait()

		if c.ownQueue != nil {
			c.ownQueue.Stop()
		}
		if c.stopConfidence != nil {
			c.stopConfidence()
		}

		c.snapMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.snapMu.Unlock()
	})

	return nil
}

func (c *Controller) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case event := <-c.events:
			event()
			c.publish()

		case <-c.quit:
			return
		}
	}
}

func (c *Controller) watchFees(updates <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
			_ = c.post(func() {
				if c.state == StateInput {
					c.dryRunNow()
				}
			})

		case <-c.quit:
			return
		}
	}
}

// post hands fn to the event loop without waiting for it to run.
func (c *Controller) post(fn func()) error {
	select {
	case c.events <- fn:
		return nil
	case <-c.quit:
		return ErrStopped
	}
}

// call runs fn on the event loop and returns its error once the resulting
// snapshot is published.
func (c *Controller) call(fn func() error) error {
	reply := make(chan error, 1)
	err := c.post(func() {
		err := fn()
		c.publish()
		reply <- err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-c.quit:
		return ErrStopped
	}
}

// submit queues background work.
func (c *Controller) submit(task worker.Task) {
	if err := c.queue.Submit(task); err != nil {
		log.Errorf("Unable to queue work: %v", err)
	}
}

// Done returns a channel that receives the result once the workflow is
// closed.
func (c *Controller) Done() <-chan Result {
	return c.done
}

// Snapshot returns the current view of the workflow.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	return c.snap.Clone()
}

// Subscribe returns a channel receiving the latest snapshot after every
// change, starting with the current one. Intermediate snapshots are dropped
// for slow readers.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- c.snap.Clone()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	cancel := func() {
		c.snapMu.Lock()
		defer c.snapMu.Unlock()

		if ch, ok := c.subs[id]; ok {
			close(ch)
			delete(c.subs, id)
		}
	}

	return ch, cancel
}

func (c *Controller) publish() {
	snap := c.snapshot()

	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.snap = snap
	for _, ch := range c.subs {
		// Every subscriber gets its own copy.
		next := snap.Clone()

		select {
		case ch <- next:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Intent:        c.intent,
		Address:       c.address,
		OwnAddress:    c.ownAddress,
		Amount:        c.amount,
		EmptyWallet:   c.emptyWallet,
		FeeCategory:   c.category,
		DryRun:        c.dryRun,
		Hint:          c.hint(),
		BadPassword:   c.badPassword,
		DirectPayment: c.directPayment,
		Ack:           c.ack,
		SentTx:        c.sentTx,
		Fetching:      c.fetching,
		Prompt:        c.prompt,
		Failure:       c.failure,
		CanConfirm:    c.canConfirm(),
	}
	if c.state == StateRequestPaymentRequest {
		snap.Intent = c.original
	}

	return snap.Clone()
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}

	log.Infof("Payment state %v -> %v", c.state, s)
	stateTransitions.WithLabelValues(s.String()).Inc()

	c.state = s
}

// Begin starts the workflow for an intent. A fee category, if given,
// overrides the default. Intents naming a payment request are negotiated
// first.
func (c *Controller) Begin(intent payintent.Intent,
	category *feetable.Category) error {

	return c.call(func() error {
		if c.state != StateUnset || c.finished {
			return ErrAlreadyStarted
		}
		if intent.HasPaymentRequestURL() && c.cfg.Negotiator == nil {
			return fmt.Errorf("%w: no negotiator for %s",
				ErrInvalidConfig, intent.PaymentRequestURL)
		}

		log.Debugf("Beginning payment: %v", intent)

		if category != nil {
			c.category = *category
		}

		if intent.HasPaymentRequestURL() {
			c.original = intent.Clone()
			c.fetchPaymentRequest()
			return nil
		}

		c.adopt(intent)
		return nil
	})
}

// adopt makes intent the current intent and enters INPUT.
func (c *Controller) adopt(intent payintent.Intent) {
	c.intent = intent.Clone()
	c.address = nil
	c.addressInvalid = false
	c.ownAddress = false
	c.prompt = nil
	c.fetching = ""

	if !c.intent.MayEditAmount() {
		c.amount = nil
		c.emptyWallet = false
	}
	if addr, err := c.intent.Address(c.cfg.NetParams); err == nil {
		c.ownAddress = c.cfg.Wallet.IsAddressMine(addr)
	}

	c.directPayment = c.cfg.Deliverer != nil &&
		c.intent.HasPaymentURL() && c.intent.IsSupportedPaymentURL() &&
		c.cfg.Deliverer.DefaultEnabled(c.intent.PaymentURL)

	c.setState(StateInput)
	c.dryRunNow()
}

// editable returns an error unless the payer may edit the payment.
func (c *Controller) editable() error {
	if c.finished || c.state != StateInput {
		return ErrWrongState
	}

	return nil
}

// SetAmount sets the amount to pay. Nil clears it.
func (c *Controller) SetAmount(amount *btcutil.Amount) error {
	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}
		if !c.intent.MayEditAmount() {
			return ErrNotEditable
		}

		c.amount = nil
		if amount != nil {
			a := *amount
			c.amount = &a
		}
		c.emptyWallet = false
		c.dryRunNow()

		return nil
	})
}

// SetEmptyWallet toggles sending the whole balance.
func (c *Controller) SetEmptyWallet(on bool) error {
	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}
		if !c.intent.MayEditAmount() {
			return ErrNotEditable
		}

		c.emptyWallet = on
		if on {
			c.amount = nil
		}
		c.dryRunNow()

		return nil
	})
}

// SetAddress validates the address text the payer entered. The address
// book label takes priority over the label the address came with. Text
// that does not parse clears the address and shows a hint.
func (c *Controller) SetAddress(ctx context.Context, text,
	label string) error {

	text = strings.TrimSpace(text)

	var validated *ValidatedAddress
	if text != "" {
		addr, err := btcutil.DecodeAddress(text, c.cfg.NetParams)
		if err == nil && !addr.IsForNet(c.cfg.NetParams) {
			err = errWrongNetwork
		}
		if err != nil {
			log.Debugf("Ignoring address %q: %v", text, err)
		} else {
			validated = &ValidatedAddress{
				Address: addr,
				Label:   c.lookupLabel(ctx, addr, label),
			}
		}
	}

	own := validated != nil && c.cfg.Wallet.IsAddressMine(
		validated.Address,
	)

	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}
		if !c.intent.MayEditAddress() {
			return ErrNotEditable
		}

		c.address = validated
		c.addressInvalid = text != "" && validated == nil
		c.ownAddress = own
		c.dryRunNow()

		return nil
	})
}

func (c *Controller) lookupLabel(ctx context.Context, addr btcutil.Address,
	label string) string {

	if c.cfg.AddressBook == nil {
		return label
	}

	bookLabel, err := c.cfg.AddressBook.Label(ctx, addr.EncodeAddress())
	if err != nil {
		log.Warnf("Address book lookup failed: %v", err)
		return label
	}
	if bookLabel != "" {
		return bookLabel
	}

	return label
}

// SetFeeCategory selects the fee category.
func (c *Controller) SetFeeCategory(category feetable.Category) error {
	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}

		c.category = category
		c.dryRunNow()

		return nil
	})
}

// SetPassword sets the spending password. Editing it clears the bad
// password flag.
func (c *Controller) SetPassword(password string) error {
	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}

		c.password = password
		c.badPassword = false

		return nil
	})
}

// SetDirectPayment toggles delivering the payment to the payee.
func (c *Controller) SetDirectPayment(on bool) error {
	return c.call(func() error {
		if err := c.editable(); err != nil {
			return err
		}
		if on && (c.cfg.Deliverer == nil ||
			!c.intent.IsSupportedPaymentURL()) {

			return ErrNotEditable
		}

		c.directPayment = on

		return nil
	})
}

// Answer replies to the current prompt.
func (c *Controller) Answer(answer Answer) error {
	return c.call(func() error {
		if c.prompt == nil || !c.prompt.accepts(answer) {
			return ErrNoPrompt
		}

		prompt := c.prompt
		c.prompt = nil

		switch prompt.Kind {
		case PromptSignificantFee:
			if answer == AnswerAccept {
				c.build()
				return nil
			}
			c.key = nil
			c.setState(StateInput)

		case PromptInsufficientFunds:
			if answer == AnswerEmptyWallet {
				c.emptyWallet = true
				c.amount = nil
				c.dryRunNow()
			}

		case PromptTrustFailure, PromptFetchFailure:
			if answer == AnswerRetry {
				c.fetchPaymentRequest()
				return nil
			}
			c.dismissNegotiation()

		case PromptDeliveryFailure:
			if answer == AnswerRetry {
				c.deliver()
			}
		}

		return nil
	})
}

// Cancel closes the workflow. Before the transaction is built this
// abandons the payment; once it is broadcast it only closes the view. It
// fails with ErrBusy while the key is derived or the transaction signed.
func (c *Controller) Cancel() error {
	return c.call(func() error {
		switch c.state {
		case StateUnset, StateRequestPaymentRequest, StateInput:
			c.finish(Result{Cancelled: true})

		case StateDecrypting:
			return ErrBusy

		case StateSigning:
			if c.prompt == nil {
				return ErrBusy
			}
			c.prompt = nil
			c.finish(Result{Cancelled: true})

		default:
			c.finish(c.result())
		}

		return nil
	})
}

func (c *Controller) result() Result {
	var res Result
	if c.sentTx != nil {
		hash := c.sentTx.TxHash()
		res.TxHash = &hash
	}
	if c.payment != nil &&
		c.intent.Standard == payintent.StandardBIP70 {

		res.Payment = c.payment.Marshal()
	}
	if c.state == StateFailed && c.failure != nil {
		res.Err = c.failure
	}

	return res
}

func (c *Controller) finish(res Result) {
	if c.finished {
		return
	}
	c.finished = true

	log.Infof("Payment workflow closed in state %v (cancelled=%v)",
		c.state, res.Cancelled)

	c.done <- res
}

// mergedIntent applies the payer's edits to the intent. Emptying the wallet
// uses the largest amount as a placeholder the estimator replaces.
func (c *Controller) mergedIntent() (payintent.Intent, error) {
	var amount *btcutil.Amount
	if c.intent.MayEditAmount() {
		switch {
		case c.emptyWallet:
			all := btcutil.Amount(btcutil.MaxSatoshi)
			amount = &all
		case c.amount != nil:
			amount = c.amount
		}
	}

	var addr btcutil.Address
	if c.address != nil {
		addr = c.address.Address
	}

	return c.intent.MergeWithEditedValues(amount, addr)
}

func (c *Controller) payeePlausible() bool {
	return c.intent.HasOutputs() || c.address != nil
}

// amountPlausible requires a successful dry run of the current input, so
// the fee checked at signing is always known. A dry run still in flight
// doesn't count.
func (c *Controller) amountPlausible() bool {
	return c.dryRun.OK()
}

func (c *Controller) passwordPlausible() bool {
	return !c.cfg.Wallet.IsEncrypted() || c.password != ""
}

func (c *Controller) feeRate() (feetable.Rates, bool) {
	rates, ok := c.cfg.FeeTable.Rates()
	if !ok {
		return nil, false
	}
	if _, ok := rates.Rate(c.category); !ok {
		return nil, false
	}

	return rates, true
}

func (c *Controller) canConfirm() bool {
	if c.finished || c.state != StateInput || c.prompt != nil {
		return false
	}
	if _, ok := c.feeRate(); !ok {
		return false
	}

	return c.payeePlausible() && c.amountPlausible() &&
		c.passwordPlausible()
}

func (c *Controller) hint() Hint {
	switch {
	case c.addressInvalid:
		return Hint{Kind: HintInvalidAddress}
	case c.dryRun == nil:
		return Hint{}
	case c.dryRun.Failure == nil:
		return Hint{Kind: HintFee, Fee: c.dryRun.Fee}
	}

	switch c.dryRun.Failure.Kind {
	case ErrorInsufficientFunds:
		return Hint{
			Kind:    HintInsufficientFunds,
			Missing: c.dryRun.Failure.Missing,
			Pending: c.dryRun.Failure.Pending,
		}
	case ErrorDustyOutput:
		return Hint{Kind: HintDusty}
	case ErrorCouldNotAdjustDownward:
		return Hint{Kind: HintEmptyWalletFailed}
	default:
		return Hint{}
	}
}
