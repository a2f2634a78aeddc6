package sending

import (
	"context"
	"fmt"

	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/payreq"
)

// fetchPaymentRequest fetches the payment request the original intent
// names.
func (c *Controller) fetchPaymentRequest() {
	c.setState(StateRequestPaymentRequest)
	c.prompt = nil
	c.fetching = payreq.DisplayHost(c.original.PaymentRequestURL)

	log.Infof("Fetching payment request from %s", c.fetching)

	orig := c.original.Clone()
	c.submit(func(ctx context.Context) {
		refined, err := c.cfg.Negotiator.Fetch(ctx, orig)
		_ = c.post(func() {
			c.onFetched(refined, err)
		})
	})
}

func (c *Controller) onFetched(refined payintent.Intent, err error) {
	if c.finished || c.state != StateRequestPaymentRequest {
		return
	}

	host := c.fetching
	c.fetching = ""

	if err != nil {
		failure := classify(err)
		log.Warnf("Payment request from %s failed: %v", host, failure)

		kind := PromptTrustFailure
		if failure.Kind == ErrorTransportFailure {
			kind = PromptFetchFailure
		}

		c.failure = failure
		c.prompt = &Prompt{
			Kind:    kind,
			Host:    host,
			Failure: failure,
			Answers: []Answer{AnswerRetry, AnswerDismiss},
		}
		return
	}

	ok, reasons := payreq.Check(c.original, refined)
	if !ok {
		log.Warnf("Payment request from %s does not match: %v", host,
			reasons)

		failure := &Failure{
			Kind: ErrorTrustVerificationFailure,
			Err: fmt.Errorf("payment request mismatch: %v",
				reasons),
		}
		c.failure = failure
		c.prompt = &Prompt{
			Kind:    PromptTrustFailure,
			Host:    host,
			Reasons: reasons,
			Failure: failure,
			Answers: []Answer{AnswerRetry, AnswerDismiss},
		}
		return
	}

	c.failure = nil
	c.adopt(refined)
}

// dismissNegotiation gives up on the payment request. Without outputs of
// its own the original intent cannot be paid, so the workflow ends.
func (c *Controller) dismissNegotiation() {
	if !c.original.HasOutputs() {
		c.finish(Result{Cancelled: true})
		return
	}

	c.adopt(c.original)
}
