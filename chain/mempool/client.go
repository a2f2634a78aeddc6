package mempool

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/time/rate"
)

// Config holds configuration for the mempool.space client.
type Config struct {
	// BaseURL is the base URL for the mempool.space API.
	// Default: https://mempool.space/api
	BaseURL string

	// RateLimit is the number of requests per second allowed.
	// Default: 10
	RateLimit int

	// Timeout is the HTTP request timeout.
	// Default: 30 seconds
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	// Default: 3
	RetryAttempts int

	// RetryDelay is the delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// CacheTTL is how long fee estimates and the tip height are reused.
	// Default: 30 seconds
	CacheTTL time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://mempool.space/api",
		RateLimit:     10,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		CacheTTL:      30 * time.Second,
	}
}

// Client is an HTTP client for the mempool.space API with rate limiting.
type Client struct {
	cfg *Config

	httpClient  *http.Client
	rateLimiter *rate.Limiter
	cache       *cache
}

// NewClient creates a new mempool.space API client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Create rate limiter (requests per second)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		cache:       newCache(cfg.CacheTTL),
	}
}

// BaseURL returns the API endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// doRequest performs an HTTP request with rate limiting and retries.
func (c *Client) doRequest(ctx context.Context, method, path string,
	body []byte) ([]byte, error) {

	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		// Wait for rate limiter
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w",
				err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if attempt < c.cfg.RetryAttempts {
				time.Sleep(c.cfg.RetryDelay * time.Duration(attempt+1))
				continue
			}
			return nil, lastErr
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: "+
				"%w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			lastErr = apiErr
			if attempt < c.cfg.RetryAttempts {
				// Back off harder when rate limited.
				time.Sleep(
					c.cfg.RetryDelay * time.Duration(attempt+1) * 2,
				)
				continue
			}

		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:

			lastErr = apiErr
			if attempt < c.cfg.RetryAttempts {
				time.Sleep(c.cfg.RetryDelay * time.Duration(attempt+1))
				continue
			}

		default:
			return nil, apiErr
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w",
		c.cfg.RetryAttempts+1, lastErr)
}

// GetCurrentHeight retrieves the current blockchain height.
func (c *Client) GetCurrentHeight(ctx context.Context) (uint32, error) {
	if height, ok := c.cache.getHeight(); ok {
		return height, nil
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, "/blocks/tip/height",
		nil)
	if err != nil {
		return 0, err
	}

	var height uint32
	if err := json.Unmarshal(respBody, &height); err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}
	c.cache.setHeight(height)

	return height, nil
}

// GetTransactionStatus retrieves the confirmation status of a transaction.
func (c *Client) GetTransactionStatus(ctx context.Context,
	txid chainhash.Hash) (*TransactionStatus, error) {

	path := fmt.Sprintf("/tx/%s/status", txid)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status TransactionStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse transaction status: %w",
			err)
	}

	return &status, nil
}

// GetAddressUTXOs retrieves the unspent outputs of an address.
func (c *Client) GetAddressUTXOs(ctx context.Context,
	addr btcutil.Address) ([]UTXO, error) {

	path := fmt.Sprintf("/address/%s/utxo", addr.EncodeAddress())
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var utxos []UTXO
	if err := json.Unmarshal(respBody, &utxos); err != nil {
		return nil, fmt.Errorf("failed to parse utxos: %w", err)
	}

	return utxos, nil
}

// BroadcastTransaction broadcasts a raw transaction to the network.
func (c *Client) BroadcastTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize transaction: %w", err)
	}
	txHex := hex.EncodeToString(buf.Bytes())

	// POST transaction as raw hex string
	_, err := c.doRequest(ctx, http.MethodPost, "/tx", []byte(txHex))
	if err != nil {
		return fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	return nil
}

// GetFeeEstimates retrieves fee estimates for different confirmation targets.
func (c *Client) GetFeeEstimates(ctx context.Context) (*FeeEstimates, error) {
	if fees, ok := c.cache.getFees(); ok {
		return fees, nil
	}

	respBody, err := c.doRequest(
		ctx, http.MethodGet, "/v1/fees/recommended", nil,
	)
	if err != nil {
		return nil, err
	}

	var fees FeeEstimates
	if err := json.Unmarshal(respBody, &fees); err != nil {
		return nil, fmt.Errorf("failed to parse fee estimates: %w", err)
	}
	c.cache.setFees(&fees)

	return &fees, nil
}
