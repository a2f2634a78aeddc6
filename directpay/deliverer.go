package directpay

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/transport"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid direct payment configuration")

	// ErrDeliveryFailed wraps every failure to get an answer from the
	// payee.
	ErrDeliveryFailed = errors.New("direct payment failed")
)

// Radio reports whether wireless delivery can be used right now. It is
// implemented by *transport.WirelessTransport.
type Radio interface {
	Available() bool
}

// Config holds configuration for the Deliverer.
type Config struct {
	// Transport submits payments.
	Transport transport.Transport

	// Radio gates wireless delivery. If nil, wireless delivery is never
	// enabled by default.
	Radio Radio
}

// Deliverer pushes signed payments straight to the payee.
type Deliverer struct {
	cfg *Config
}

// New creates a new Deliverer.
func New(cfg *Config) (*Deliverer, error) {
	if cfg == nil || cfg.Transport == nil {
		return nil, ErrInvalidConfig
	}

	return &Deliverer{cfg: cfg}, nil
}

// DefaultEnabled reports whether delivery to endpoint should be on unless
// the user turns it off: always for HTTP, for wireless only when the radio
// can be used.
func (d *Deliverer) DefaultEnabled(endpoint string) bool {
	switch transport.Classify(endpoint) {
	case transport.KindHTTP:
		return true

	case transport.KindWireless:
		return d.cfg.Radio != nil && d.cfg.Radio.Available()

	default:
		return false
	}
}

// Deliver submits payment to endpoint and reports whether the payee
// acknowledged it. Any failure to obtain an answer wraps
// ErrDeliveryFailed; a nack is not an error.
func (d *Deliverer) Deliver(ctx context.Context, endpoint string,
	payment *paymentproto.Payment) (bool, error) {

	log.Infof("Delivering payment to %s", transport.Host(endpoint))

	raw, err := d.cfg.Transport.SubmitPayment(
		ctx, endpoint, payment.Marshal(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	ack, err := paymentproto.ParseACK(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	log.Infof("Payee %s %s the payment", transport.Host(endpoint),
		map[bool]string{true: "acked", false: "nacked"}[ack])

	return ack, nil
}
