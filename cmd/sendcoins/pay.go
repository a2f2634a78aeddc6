package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/sendcoins/client"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/sending"
	"github.com/urfave/cli"
)

var payCommand = cli.Command{
	Name:      "pay",
	Usage:     "pay a bitcoin URI or address",
	ArgsUsage: "bitcoin-uri|address",
	Description: `
	Pays a bitcoin: URI or a bare address. URIs naming a payment request
	are fetched and verified first. The payment is shown for confirmation
	before anything is signed.
	`,
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "amt",
			Usage: "the amount in satoshis, for payments that " +
				"don't name one",
		},
		cli.BoolFlag{
			Name:  "sweep",
			Usage: "send the whole wallet balance",
		},
		cli.StringFlag{
			Name:  "fee",
			Value: feetable.CategoryNormal.String(),
			Usage: "the fee category; economic, normal or " +
				"priority",
		},
		cli.BoolFlag{
			Name:  "nodirect",
			Usage: "don't deliver the payment to the payee",
		},
		cli.BoolFlag{
			Name:  "force",
			Usage: "skip the confirmation",
		},
	},
	Action: pay,
}

func pay(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "pay")
	}
	if ctx.IsSet("amt") && ctx.Bool("sweep") {
		return errors.New("amt and sweep are mutually exclusive")
	}

	category, err := feetable.ParseCategory(ctx.String("fee"))
	if err != nil {
		return err
	}

	c, cleanUp, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	intent, err := c.ParseIntent(ctx.Args().First())
	if err != nil {
		return err
	}
	if _, ok := c.Fees().Rates(); !ok {
		return errors.New("no fee rates available")
	}

	ctrl, err := c.NewPayment(context.Background())
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Errorf("Unable to stop payment: %v", err)
		}
	}()

	if err := ctrl.Begin(intent, &category); err != nil {
		return err
	}

	p := &payment{
		cli:       ctx,
		client:    c,
		ctrl:      ctrl,
		encrypted: c.Wallet().IsEncrypted(),
	}

	return p.run()
}

// payment drives a payment workflow from the terminal.
type payment struct {
	cli       *cli.Context
	client    *client.Client
	ctrl      *sending.Controller
	encrypted bool

	edited    bool
	confirmed bool
	fetching  string
}

func (p *payment) run() error {
	updates, cancel := p.ctrl.Subscribe()
	defer cancel()

	for {
		select {
		case snap := <-updates:
			if err := p.handle(snap); err != nil {
				if cancelErr := p.ctrl.Cancel(); cancelErr != nil {
					log.Warnf("Unable to cancel payment: %v",
						cancelErr)
				}
				return err
			}

		case res := <-p.ctrl.Done():
			return printResult(res)
		}
	}
}

func (p *payment) handle(snap sending.Snapshot) error {
	if snap.Prompt != nil {
		return p.answer(snap.Prompt)
	}

	switch snap.State {
	case sending.StateRequestPaymentRequest:
		if snap.Fetching != "" && snap.Fetching != p.fetching {
			p.fetching = snap.Fetching
			fmt.Printf("Fetching payment request from %s...\n",
				snap.Fetching)
		}

	case sending.StateInput:
		return p.input(snap)

	case sending.StateSent:
		// Wait for the payee's answer or the auto dismiss.
		switch {
		case snap.DirectPayment && snap.Ack == sending.AckNotAttempted:
			return nil

		case snap.Ack == sending.AckReceived:
			fmt.Println("The payee accepted the payment")

		case snap.Ack == sending.AckRejected:
			fmt.Println("The payee rejected the payment")
		}
		return p.ctrl.Cancel()

	case sending.StateFailed:
		return p.ctrl.Cancel()
	}

	return nil
}

// input applies the command line edits once, then confirms the payment
// after its dry run.
func (p *payment) input(snap sending.Snapshot) error {
	if !p.edited {
		p.edited = true
		if err := p.edit(snap); err != nil {
			return err
		}

		// Edits restart the dry run, otherwise the current one still
		// applies.
		snap = p.ctrl.Snapshot()
	}

	if p.confirmed {
		switch {
		case snap.BadPassword:
			fmt.Println("Bad spending password")
			return p.confirm()

		case snap.Failure != nil:
			return snap.Failure
		}

		return nil
	}

	if snap.DryRun == nil {
		return nil
	}
	if snap.DryRun.Failure != nil {
		return snap.DryRun.Failure
	}

	p.printSummary(snap)

	if !p.cli.Bool("force") {
		ok, err := promptYesNo("Send payment?")
		if err != nil {
			return err
		}
		if !ok {
			return p.ctrl.Cancel()
		}
	}

	return p.confirm()
}

func (p *payment) edit(snap sending.Snapshot) error {
	switch {
	case p.cli.IsSet("amt"):
		amt := btcutil.Amount(p.cli.Int64("amt"))
		if err := p.ctrl.SetAmount(&amt); err != nil {
			return fmt.Errorf("unable to set amount: %w", err)
		}

	case p.cli.Bool("sweep"):
		if err := p.ctrl.SetEmptyWallet(true); err != nil {
			return fmt.Errorf("unable to sweep: %w", err)
		}

	case snap.Intent.MayEditAmount():
		return errors.New("the payment names no amount, use amt " +
			"or sweep")
	}

	if p.cli.Bool("nodirect") && snap.DirectPayment {
		if err := p.ctrl.SetDirectPayment(false); err != nil {
			return err
		}
	}

	return nil
}

func (p *payment) confirm() error {
	p.confirmed = true

	if p.encrypted {
		pass, err := readPassword("Spending passphrase: ")
		if err != nil {
			return err
		}
		if err := p.ctrl.SetPassword(pass); err != nil {
			return err
		}
	}

	return p.ctrl.Confirm()
}

func (p *payment) answer(prompt *sending.Prompt) error {
	switch prompt.Kind {
	case sending.PromptSignificantFee:
		ok, err := promptYesNo(fmt.Sprintf("The fee of %v is more "+
			"than the amount of %v. Pay anyway?", prompt.Fee,
			prompt.Amount))
		if err != nil {
			return err
		}
		if ok {
			return p.ctrl.Answer(sending.AnswerAccept)
		}
		if err := p.ctrl.Answer(sending.AnswerDecline); err != nil {
			return err
		}
		return p.ctrl.Cancel()

	case sending.PromptInsufficientFunds:
		fmt.Println(prompt.Failure)
		if !offers(prompt, sending.AnswerEmptyWallet) {
			return prompt.Failure
		}

		ok, err := promptYesNo("Send the whole balance instead?")
		if err != nil {
			return err
		}
		if !ok {
			return prompt.Failure
		}

		// The new amount needs another confirmation.
		p.confirmed = false
		return p.ctrl.Answer(sending.AnswerEmptyWallet)

	case sending.PromptTrustFailure:
		fmt.Printf("The payment request from %s can't be trusted\n",
			prompt.Host)
		if len(prompt.Reasons) > 0 {
			fmt.Printf("It doesn't match the payment: %s\n",
				strings.Join(prompt.Reasons, ", "))
		}
		if prompt.Failure != nil {
			fmt.Println(prompt.Failure)
		}
		return p.retryOrDismiss()

	case sending.PromptFetchFailure:
		fmt.Printf("Unable to fetch the payment request from %s: %v\n",
			prompt.Host, prompt.Failure)
		return p.retryOrDismiss()

	case sending.PromptDeliveryFailure:
		fmt.Printf("Unable to deliver the payment to %s: %v\n",
			prompt.Host, prompt.Failure)
		return p.retryOrDismiss()
	}

	return fmt.Errorf("unknown prompt %v", prompt.Kind)
}

func (p *payment) retryOrDismiss() error {
	retry, err := promptYesNo("Retry?")
	if err != nil {
		return err
	}
	if retry {
		return p.ctrl.Answer(sending.AnswerRetry)
	}

	return p.ctrl.Answer(sending.AnswerDismiss)
}

func offers(prompt *sending.Prompt, answer sending.Answer) bool {
	for _, a := range prompt.Answers {
		if a == answer {
			return true
		}
	}

	return false
}

func (p *payment) printSummary(snap sending.Snapshot) {
	params := p.client.NetParams()

	fmt.Println()
	if snap.Intent.HasPayee() {
		fmt.Printf("Payee:      %s\n", snap.Intent.PayeeName)
		if snap.Intent.PayeeVerifiedBy != "" {
			fmt.Printf("            verified by %s\n",
				snap.Intent.PayeeVerifiedBy)
		}
	}
	if addr, err := snap.Intent.Address(params); err == nil {
		label, err := p.client.AddressBook().Label(
			context.Background(), addr.EncodeAddress(),
		)
		if err != nil {
			log.Warnf("Address book lookup failed: %v", err)
		}
		if label != "" {
			fmt.Printf("To:         %v (%s)\n", addr, label)
		} else {
			fmt.Printf("To:         %v\n", addr)
		}
	}
	if snap.OwnAddress {
		fmt.Println("            this address belongs to your wallet")
	}
	if snap.Intent.Memo != "" {
		fmt.Printf("Memo:       %s\n", snap.Intent.Memo)
	}
	fmt.Printf("Amount:     %v\n", snap.DryRun.Amount)
	fmt.Printf("Fee:        %v (%v)\n", snap.DryRun.Fee, snap.FeeCategory)
	for _, category := range feetable.AllCategories {
		fee, ok := snap.DryRun.FeePreview[category]
		if !ok || category == snap.FeeCategory {
			continue
		}
		fmt.Printf("            %v at %v\n", fee, category)
	}
	if snap.DirectPayment {
		fmt.Println("Delivery:   directly to the payee")
	}
	fmt.Println()
}

func printResult(res sending.Result) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Cancelled {
		fmt.Println("Payment cancelled")
		return nil
	}

	if res.TxHash != nil {
		fmt.Printf("Payment sent: %v\n", res.TxHash)
	}

	return nil
}
