package transport

import (
	"context"
	"fmt"
)

const (
	// ContentTypePaymentRequest is the media type of a serialized
	// payment request.
	ContentTypePaymentRequest = "application/bitcoin-paymentrequest"

	// ContentTypePayment is the media type of a serialized payment.
	ContentTypePayment = "application/bitcoin-payment"

	// ContentTypePaymentACK is the media type of a serialized payment
	// acknowledgement.
	ContentTypePaymentACK = "application/bitcoin-paymentack"
)

// Transport exchanges payment protocol messages with a payee endpoint.
type Transport interface {
	// FetchPaymentRequest retrieves a serialized payment request.
	FetchPaymentRequest(ctx context.Context, endpoint string) ([]byte,
		error)

	// SubmitPayment delivers a serialized payment and returns the
	// serialized acknowledgement.
	SubmitPayment(ctx context.Context, endpoint string,
		payment []byte) ([]byte, error)
}

// Router dispatches every call to the transport matching the endpoint kind.
type Router struct {
	routes map[Kind]Transport
}

// A compile-time assertion that Router satisfies Transport.
var _ Transport = (*Router)(nil)

// NewRouter creates a router. Either transport may be nil, in which case
// endpoints of that kind are unsupported.
func NewRouter(http, wireless Transport) *Router {
	routes := make(map[Kind]Transport, 2)
	if http != nil {
		routes[KindHTTP] = http
	}
	if wireless != nil {
		routes[KindWireless] = wireless
	}

	return &Router{routes: routes}
}

func (r *Router) route(endpoint string) (Transport, error) {
	kind := Classify(endpoint)
	t, ok := r.routes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no %v transport for %s",
			ErrUnsupportedEndpoint, kind, endpoint)
	}

	return t, nil
}

// FetchPaymentRequest retrieves a payment request over the matching
// transport.
func (r *Router) FetchPaymentRequest(ctx context.Context,
	endpoint string) ([]byte, error) {

	t, err := r.route(endpoint)
	if err != nil {
		return nil, err
	}

	return t.FetchPaymentRequest(ctx, endpoint)
}

// SubmitPayment delivers a payment over the matching transport.
func (r *Router) SubmitPayment(ctx context.Context, endpoint string,
	payment []byte) ([]byte, error) {

	t, err := r.route(endpoint)
	if err != nil {
		return nil, err
	}

	return t.SubmitPayment(ctx, endpoint, payment)
}
