package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/tor"
	"golang.org/x/time/rate"
)

// HTTPConfig holds the configuration of the HTTP transport.
type HTTPConfig struct {
	// Timeout bounds a single request.
	Timeout time.Duration

	// RateLimit is the number of requests per second allowed.
	RateLimit int

	// RetryAttempts is the number of additional attempts made when
	// fetching a payment request fails with a transient error. Payments
	// are never resubmitted automatically.
	RetryAttempts int

	// RetryDelay is the delay between retry attempts.
	RetryDelay time.Duration

	// MaxMessageSize caps the size of a response body.
	MaxMessageSize int64

	// TorSOCKS is the address of a Tor SOCKS proxy. When set, .onion
	// endpoints are dialed through it.
	TorSOCKS string
}

// DefaultHTTPConfig returns the default HTTP transport configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:        30 * time.Second,
		RateLimit:      5,
		RetryAttempts:  2,
		RetryDelay:     time.Second,
		MaxMessageSize: 50000,
	}
}

// HTTPTransport speaks the payment protocol over HTTP.
type HTTPTransport struct {
	cfg *HTTPConfig

	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// A compile-time assertion that HTTPTransport satisfies Transport.
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg *HTTPConfig) *HTTPTransport {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}

	roundTripper := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TorSOCKS != "" {
		proxy := &tor.ProxyNet{
			SOCKS:           cfg.TorSOCKS,
			StreamIsolation: true,
		}
		direct := &net.Dialer{Timeout: cfg.Timeout}

		roundTripper.DialContext = func(ctx context.Context, network,
			addr string) (net.Conn, error) {

			host, _, err := net.SplitHostPort(addr)
			if err == nil && strings.HasSuffix(host, ".onion") {
				return proxy.Dial(network, addr, cfg.Timeout)
			}

			return direct.DialContext(ctx, network, addr)
		}
	}

	return &HTTPTransport{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: roundTripper,
		},
		rateLimiter: rate.NewLimiter(
			rate.Limit(cfg.RateLimit), cfg.RateLimit,
		),
	}
}

// FetchPaymentRequest retrieves a serialized payment request with GET.
func (h *HTTPTransport) FetchPaymentRequest(ctx context.Context,
	endpoint string) ([]byte, error) {

	return h.doRequest(
		ctx, http.MethodGet, endpoint, "", ContentTypePaymentRequest,
		nil, h.cfg.RetryAttempts,
	)
}

// SubmitPayment posts a serialized payment and returns the serialized
// acknowledgement.
func (h *HTTPTransport) SubmitPayment(ctx context.Context, endpoint string,
	payment []byte) ([]byte, error) {

	return h.doRequest(
		ctx, http.MethodPost, endpoint, ContentTypePayment,
		ContentTypePaymentACK, payment, 0,
	)
}

// doRequest performs an HTTP request with rate limiting and retries.
func (h *HTTPTransport) doRequest(ctx context.Context, method, endpoint,
	contentType, accept string, body []byte, retries int) ([]byte, error) {

	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEndpoint, err)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := h.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(
			ctx, method, endpoint, reqBody,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w",
				err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", accept)

		log.Debugf("%s %s (attempt %d)", method, endpoint, attempt+1)

		resp, err := h.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if attempt < retries {
				if err := h.backoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		respBody, err := io.ReadAll(
			io.LimitReader(resp.Body, h.cfg.MaxMessageSize+1),
		)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: "+
				"%w", err)
		}
		if int64(len(respBody)) > h.cfg.MaxMessageSize {
			return nil, fmt.Errorf("%w: response exceeds %d bytes",
				ErrFrameTooLarge, h.cfg.MaxMessageSize)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		statusErr := &StatusError{
			Code: resp.StatusCode,
			Body: string(respBody),
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:

			lastErr = statusErr
			if attempt < retries {
				if err := h.backoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}

		default:
			return nil, statusErr
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w",
		retries+1, lastErr)
}

// backoff waits before the next attempt, giving up early when ctx is done.
func (h *HTTPTransport) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(h.cfg.RetryDelay * time.Duration(attempt+1))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
