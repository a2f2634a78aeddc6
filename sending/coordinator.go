package sending

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/payreq"
	"github.com/lightninglabs/sendcoins/wallet"
)

// minBroadcastPeers is the number of peers that must have accepted a
// transaction before it counts as sent.
const minBroadcastPeers = 2

var (
	// errTxDead is reported when the broadcast transaction can never
	// confirm.
	errTxDead = errors.New("transaction was double spent")

	// errNoFeeRate is reported when the fee table disappeared between
	// confirm and signing.
	errNoFeeRate = errors.New("no fee rate available")
)

// dryRunNow discards any previous dry run and starts a new one for the
// current input. Only the result of the most recent dry run is applied.
func (c *Controller) dryRunNow() {
	c.dryRunSeq++
	c.dryRun = nil

	if c.state != StateInput {
		return
	}
	rates, ok := c.feeRate()
	if !ok {
		return
	}
	final, err := c.mergedIntent()
	if err != nil {
		return
	}

	var (
		seq         = c.dryRunSeq
		category    = c.category
		emptyWallet = c.emptyWallet && c.intent.MayEditAmount()
		outputs     = final.TxOuts()
	)
	c.submit(func(ctx context.Context) {
		dryRun := c.estimate(ctx, outputs, emptyWallet, rates, category)
		if dryRun == nil {
			return
		}

		_ = c.post(func() {
			if seq != c.dryRunSeq {
				log.Tracef("Discarding stale dry run %d", seq)
				return
			}

			c.dryRun = dryRun
			if dryRun.Failure != nil {
				dryRunFailures.WithLabelValues(
					dryRun.Failure.Kind.String(),
				).Inc()
			}
		})
	})
}

// estimate runs a dry run at every fee category. It runs on the worker
// queue and does not touch workflow state.
func (c *Controller) estimate(ctx context.Context, outputs []*wire.TxOut,
	emptyWallet bool, rates feetable.Rates,
	category feetable.Category) *DryRun {

	if ctx.Err() != nil {
		return nil
	}

	coins, err := c.cfg.Wallet.Coins(ctx)
	if err != nil {
		return &DryRun{Failure: classify(err)}
	}
	changeScript, err := c.cfg.Wallet.CurrentChangeScript()
	if err != nil {
		return &DryRun{Failure: classify(err)}
	}

	dryRun := &DryRun{
		FeePreview: make(map[feetable.Category]btcutil.Amount, len(rates)),
	}
	for _, cat := range rates.Categories() {
		res, err := c.cfg.Estimator.Estimate(ctx, &dryrun.Request{
			Outputs:      outputs,
			EmptyWallet:  emptyWallet,
			FeeRate:      rates[cat],
			Coins:        coins,
			ChangeScript: changeScript,
		})
		if err == nil {
			dryRun.FeePreview[cat] = res.Fee
		}
		if cat != category {
			continue
		}

		if err != nil {
			dryRun.Failure = classify(err)
			continue
		}
		dryRun.Fee = res.Fee
		dryRun.Amount = res.Amount
	}

	return dryRun
}

// Confirm accepts the payment as entered. It is rejected unless the state
// is INPUT and payee, amount and password are all plausible.
func (c *Controller) Confirm() error {
	return c.call(func() error {
		if c.editable() != nil {
			return fmt.Errorf("%w: state %v", ErrConfirmRejected,
				c.state)
		}
		if !c.canConfirm() {
			return ErrConfirmRejected
		}

		final, err := c.mergedIntent()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfirmRejected, err)
		}

		log.Infof("Payment confirmed: %v", final)

		c.final = final
		c.failure = nil

		if c.cfg.Wallet.IsEncrypted() {
			c.setState(StateDecrypting)
			c.deriveKey()
			return nil
		}

		c.setState(StateSigning)
		c.sign(nil)

		return nil
	})
}

func (c *Controller) deriveKey() {
	password := c.password

	c.submit(func(ctx context.Context) {
		key, upgraded, err := c.cfg.Wallet.DeriveKey(
			ctx, password, c.cfg.WorkFactor,
		)
		if err == nil && upgraded {
			log.Infof("Wallet encryption upgraded to work factor %d",
				c.cfg.WorkFactor)

			if c.cfg.OnKeyUpgraded != nil {
				c.cfg.OnKeyUpgraded()
			}
		}

		_ = c.post(func() {
			c.onKeyDerived(key, err)
		})
	})
}

func (c *Controller) onKeyDerived(key wallet.EncryptionKey, err error) {
	if c.state != StateDecrypting {
		return
	}
	if err != nil {
		c.rejectKey(err)
		return
	}

	c.setState(StateSigning)
	c.sign(key)
}

// rejectKey returns to INPUT with the bad password flag set. Everything
// else the payer entered is kept.
func (c *Controller) rejectKey(err error) {
	log.Infof("Spending password rejected: %v", err)

	c.key = nil
	c.failure = &Failure{Kind: ErrorInvalidEncryptionKey, Err: err}
	c.badPassword = true
	c.setState(StateInput)
}

// sign asks for confirmation of a fee above the amount and builds the
// transaction otherwise.
func (c *Controller) sign(key wallet.EncryptionKey) {
	c.key = key

	spend := c.final.Amount()
	if c.emptyWallet && c.dryRun.OK() {
		spend = c.dryRun.Amount
	}

	if c.dryRun.OK() && c.dryRun.Fee > spend {
		c.prompt = &Prompt{
			Kind:    PromptSignificantFee,
			Fee:     c.dryRun.Fee,
			Amount:  spend,
			Answers: []Answer{AnswerAccept, AnswerDecline},
		}
		return
	}

	c.build()
}

func (c *Controller) build() {
	rates, ok := c.feeRate()
	if !ok {
		c.onSigned(nil, nil, errNoFeeRate)
		return
	}

	req := &wallet.SendRequest{
		Outputs:     c.final.TxOuts(),
		EmptyWallet: c.emptyWallet && c.intent.MayEditAmount(),
		FeeRate:     rates[c.category],
		Key:         c.key,
		Memo:        c.final.Memo,
	}
	intent := c.intent.Clone()
	withPayment := intent.Standard == payintent.StandardBIP70 ||
		(c.directPayment && intent.HasPaymentURL())

	c.submit(func(ctx context.Context) {
		start := c.cfg.Clock.Now()
		res, err := c.cfg.Wallet.SignAndCommit(ctx, req)
		signDuration.Observe(c.cfg.Clock.Now().Sub(start).Seconds())

		var payment *paymentproto.Payment
		if err == nil && withPayment {
			payment = c.packagePayment(ctx, intent, res)
		}

		_ = c.post(func() {
			c.onSigned(res, payment, err)
		})
	})
}

// packagePayment wraps a committed transaction into a payment message. The
// transaction can no longer be taken back, so failures are only logged.
func (c *Controller) packagePayment(ctx context.Context,
	intent payintent.Intent, res *wallet.SendResult) *paymentproto.Payment {

	var refund btcutil.Address
	if intent.Standard == payintent.StandardBIP70 {
		addr, err := c.cfg.Wallet.FreshRefundAddress(ctx)
		if err != nil {
			log.Warnf("Paying without refund address: %v", err)
		} else {
			refund = addr
		}
	}

	payment, err := paymentproto.CreatePayment(
		res.Tx, res.Amount, refund, "", intent.PayeeData,
	)
	if err != nil {
		log.Errorf("Unable to create payment message: %v", err)
		return nil
	}

	return payment
}

func (c *Controller) onSigned(res *wallet.SendResult,
	payment *paymentproto.Payment, err error) {

	c.key = nil
	if c.state != StateSigning {
		return
	}
	if err != nil {
		c.failBuild(err)
		return
	}

	txHash := res.Tx.TxHash()
	log.Infof("Signed payment %v paying %v with fee %v", txHash,
		res.Amount, res.Fee)
	log.Tracef("Signed payment: %v", newLogClosure(func() string {
		return spew.Sdump(res.Tx)
	}))

	c.sentTx = res.Tx
	c.payment = payment
	c.setState(StateSending)

	c.watchConfidence(txHash)
	c.broadcast(res.Tx)

	if c.directPayment && c.payment != nil {
		c.deliver()
	}
}

func (c *Controller) failBuild(err error) {
	failure := classify(err)
	buildFailures.WithLabelValues(failure.Kind.String()).Inc()

	log.Infof("Building payment failed: %v", failure)

	switch failure.Kind {
	case ErrorInsufficientFunds:
		answers := []Answer{AnswerDismiss}
		if c.intent.MayEditAmount() {
			answers = []Answer{AnswerEmptyWallet, AnswerDismiss}
		}

		c.failure = failure
		c.prompt = &Prompt{
			Kind:    PromptInsufficientFunds,
			Failure: failure,
			Answers: answers,
		}
		c.setState(StateInput)

	case ErrorDustyOutput, ErrorCouldNotAdjustDownward:
		c.failure = failure
		c.setState(StateInput)

	case ErrorInvalidEncryptionKey:
		c.rejectKey(err)

	default:
		c.failure = &Failure{
			Kind: ErrorUnclassifiedBuildFailure,
			Err:  err,
		}
		c.setState(StateFailed)
	}
}

func (c *Controller) watchConfidence(txHash chainhash.Hash) {
	updates, cancel := c.cfg.Broadcaster.SubscribeConfidence(txHash)
	c.stopConfidence = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			select {
			case conf, ok := <-updates:
				if !ok {
					return
				}

				err := c.post(func() {
					c.onConfidence(conf)
				})
				if err != nil {
					return
				}

			case <-c.quit:
				return
			}
		}
	}()
}

func (c *Controller) onConfidence(conf wallet.Confidence) {
	log.Debugf("Payment confidence: %v, %d peers", conf.Type,
		conf.BroadcastPeers)

	if c.state != StateSending {
		return
	}

	switch {
	case conf.Type == wallet.ConfidenceDead:
		c.failure = &Failure{
			Kind: ErrorUnclassifiedBuildFailure,
			Err:  errTxDead,
		}
		c.setState(StateFailed)

	case conf.Type == wallet.ConfidenceBuilding,
		conf.BroadcastPeers >= minBroadcastPeers:

		c.setState(StateSent)
	}
}

func (c *Controller) broadcast(tx *wire.MsgTx) {
	c.submit(func(ctx context.Context) {
		err := c.cfg.Broadcaster.PublishTransaction(ctx, tx)
		_ = c.post(func() {
			c.onBroadcast(tx.TxHash(), err)
		})
	})
}

// onBroadcast schedules the auto dismiss once the broadcast attempt is
// over, whether or not it succeeded. The transaction is committed to the
// wallet either way, and its fate is left to the confidence updates.
func (c *Controller) onBroadcast(txHash chainhash.Hash, err error) {
	if err != nil {
		log.Errorf("Broadcast of %v failed: %v", txHash, err)
	} else {
		log.Infof("Broadcast %v", txHash)
	}

	if c.cfg.AutoDismissDelay <= 0 || c.finished {
		return
	}

	tick := c.cfg.Clock.TickAfter(c.cfg.AutoDismissDelay)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-tick:
			_ = c.post(func() {
				if !c.finished {
					c.finish(c.result())
				}
			})

		case <-c.quit:
		}
	}()
}

// deliver sends the payment message to the payee.
func (c *Controller) deliver() {
	endpoint := c.intent.PaymentURL
	payment := c.payment

	c.submit(func(ctx context.Context) {
		ack, err := c.cfg.Deliverer.Deliver(ctx, endpoint, payment)
		_ = c.post(func() {
			c.onDelivered(endpoint, ack, err)
		})
	})
}

// onDelivered records the payee's answer. An ack while SENDING completes
// the payment, a nack never reverts it.
func (c *Controller) onDelivered(endpoint string, ack bool, err error) {
	if err != nil {
		deliveries.WithLabelValues("failed").Inc()

		failure := classify(err)
		log.Warnf("Direct payment to %s failed: %v",
			payreq.DisplayHost(endpoint), failure)

		c.prompt = &Prompt{
			Kind:    PromptDeliveryFailure,
			Host:    payreq.DisplayHost(endpoint),
			Failure: failure,
			Answers: []Answer{AnswerRetry, AnswerDismiss},
		}
		return
	}

	if !ack {
		deliveries.WithLabelValues("nack").Inc()
		c.ack = AckRejected
		return
	}

	deliveries.WithLabelValues("ack").Inc()
	c.ack = AckReceived
	if c.state == StateSending {
		c.setState(StateSent)
	}
}
