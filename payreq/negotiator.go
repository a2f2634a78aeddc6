package payreq

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/transport"
	"golang.org/x/net/idna"
)

const (
	// ReasonAddress means the refined intent pays other scripts.
	ReasonAddress = "address"

	// ReasonAmount means the refined intent changed a fixed amount.
	ReasonAmount = "amount"

	// ReasonUnknown means the intents differ in a way neither address
	// nor amount explain.
	ReasonUnknown = "unknown"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid negotiator configuration")

	// ErrFetchFailed wraps transport failures while fetching a payment
	// request.
	ErrFetchFailed = errors.New("failed to fetch payment request")

	// ErrHashMismatch is returned when a fetched request does not hash
	// to the value the original intent committed to.
	ErrHashMismatch = errors.New("payment request hash mismatch")
)

// IntentParser turns a raw payment request into a verified intent. It is
// implemented by *paymentproto.Verifier.
type IntentParser interface {
	ParseIntent(raw []byte) (payintent.Intent, error)
}

// Config holds configuration for the Negotiator.
type Config struct {
	// Transport fetches payment requests.
	Transport transport.Transport

	// Parser verifies fetched payment requests.
	Parser IntentParser
}

// Negotiator fetches payee-signed payment requests.
type Negotiator struct {
	cfg *Config
}

// New creates a new Negotiator.
func New(cfg *Config) (*Negotiator, error) {
	if cfg == nil || cfg.Transport == nil || cfg.Parser == nil {
		return nil, ErrInvalidConfig
	}

	return &Negotiator{cfg: cfg}, nil
}

// Fetch retrieves and verifies the payment request behind the payment
// request URL of orig. Transport failures wrap ErrFetchFailed, failed
// verification is reported as *paymentproto.VerificationError.
func (n *Negotiator) Fetch(ctx context.Context,
	orig payintent.Intent) (payintent.Intent, error) {

	endpoint := orig.PaymentRequestURL
	log.Infof("Requesting payment request from %s", DisplayHost(endpoint))

	raw, err := n.cfg.Transport.FetchPaymentRequest(ctx, endpoint)
	if err != nil {
		return payintent.Intent{}, fmt.Errorf("%w: %w", ErrFetchFailed,
			err)
	}

	refined, err := n.cfg.Parser.ParseIntent(raw)
	if err != nil {
		return payintent.Intent{}, err
	}

	if len(orig.PaymentRequestHash) > 0 &&
		!bytes.Equal(orig.PaymentRequestHash, refined.PaymentRequestHash) {

		return payintent.Intent{}, ErrHashMismatch
	}

	return refined, nil
}

// Check decides whether refined may replace orig. When it may not, the
// reasons name what differs.
func Check(orig, refined payintent.Intent) (bool, []string) {
	if orig.IsExtendedBy(refined) {
		return true, nil
	}

	var reasons []string
	if !orig.EqualsAddress(refined) {
		reasons = append(reasons, ReasonAddress)
	}
	if !orig.EqualsAmount(refined) {
		reasons = append(reasons, ReasonAmount)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonUnknown)
	}

	log.Infof("Payment request trust check failed: %v", reasons)

	return false, reasons
}

// DisplayHost returns the host of an endpoint for display. Punycode labels
// are shown in Unicode.
func DisplayHost(endpoint string) string {
	host := transport.Host(endpoint)
	if transport.Classify(endpoint) != transport.KindHTTP {
		return host
	}

	display, err := idna.Display.ToUnicode(host)
	if err != nil {
		return host
	}

	return display
}
