package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/sendcoins/chain/mempool"
	"github.com/lightninglabs/sendcoins/db"
	"github.com/lightninglabs/sendcoins/directpay"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/keyring"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/payreq"
	"github.com/lightninglabs/sendcoins/sending"
	"github.com/lightninglabs/sendcoins/transport"
	"github.com/lightninglabs/sendcoins/wallet/hdwallet"
	"github.com/lightninglabs/sendcoins/worker"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// keyStateFile holds the key indexes inside the data directory.
	keyStateFile = "keystate.json"

	// addressBookFile is the sqlite address book inside the data
	// directory.
	addressBookFile = "addressbook.db"
)

// ErrConfigRequired is returned when no configuration is given.
var ErrConfigRequired = errors.New("config required")

// Config holds client configuration.
type Config struct {
	// Network is one of mainnet, testnet, signet or regtest.
	Network string

	// DataDir holds key indexes and the address book.
	DataDir string

	// Seed is the seed of an unencrypted wallet.
	Seed []byte

	// Keystore holds the seed of an encrypted wallet.
	Keystore *hdwallet.Keystore

	// KeystorePath is where an upgraded keystore is written.
	KeystorePath string

	// MempoolURLs are mempool.space compatible API endpoints. The first
	// one serves coins and fees, all of them receive broadcasts.
	MempoolURLs []string

	// FeeRefreshInterval is how often fee rates are refreshed.
	FeeRefreshInterval time.Duration

	// FallbackFees are used until the first fee refresh succeeds.
	FallbackFees feetable.Rates

	// HTTP configures payment protocol requests over HTTP.
	HTTP *transport.HTTPConfig

	// Radio, if set, enables payment protocol exchanges with nearby
	// devices.
	Radio transport.Radio

	// AddressBook configures the address book. If nil, a sqlite address
	// book in DataDir is used.
	AddressBook *db.Config

	// MinConfs is the depth a received coin needs to be spendable.
	// Default: 1
	MinConfs int32

	// WorkFactor is the scrypt work factor keys are upgraded to.
	WorkFactor uint64

	// AutoDismissDelay is how long a broadcast payment stays open.
	AutoDismissDelay time.Duration

	// OnKeyUpgraded is called after the keystore was re-encrypted.
	OnKeyUpgraded func()
}

// NetParams returns the chain parameters of a network name.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Client wires the chain backend, wallet, payment protocol and address book
// into payment workflows.
type Client struct {
	cfg       *Config
	netParams *chaincfg.Params
	clock     clock.Clock

	// Chain backend
	mempool     *mempool.Client
	broadcaster *mempool.Broadcaster
	fees        *feetable.Refresher

	// Wallet
	wallet *hdwallet.Wallet

	// Payment protocol
	verifier   *paymentproto.Verifier
	negotiator *payreq.Negotiator
	deliverer  *directpay.Deliverer

	addrBook *db.AddressBook
	queue    *worker.Queue
}

// New creates a new client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}

	netParams, err := NetParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if len(cfg.MempoolURLs) == 0 {
		return nil, fmt.Errorf("at least one mempool URL required")
	}

	clk := clock.NewDefaultClock()

	// Chain backend.
	clients := make([]*mempool.Client, 0, len(cfg.MempoolURLs))
	for _, url := range cfg.MempoolURLs {
		mempoolCfg := mempool.DefaultConfig()
		mempoolCfg.BaseURL = strings.TrimSuffix(url, "/")
		clients = append(clients, mempool.NewClient(mempoolCfg))
	}
	broadcaster, err := mempool.NewBroadcaster(
		mempool.DefaultBroadcasterConfig(clients...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcaster: %w", err)
	}

	feeCfg := feetable.DefaultConfig(mempool.NewFeeRateSource(clients[0]))
	if cfg.FeeRefreshInterval != 0 {
		feeCfg.Ticker = ticker.New(cfg.FeeRefreshInterval)
	}
	feeCfg.Fallback = cfg.FallbackFees
	fees, err := feetable.NewRefresher(feeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create fee table: %w", err)
	}

	// Wallet.
	var keyState keyring.KeyStateStore = keyring.NewMemoryKeyStateStore()
	if cfg.DataDir != "" {
		keyState, err = keyring.NewFileKeyStateStore(
			filepath.Join(cfg.DataDir, keyStateFile),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open key state: %w",
				err)
		}
	}

	walletCfg := hdwallet.DefaultConfig(clients[0])
	walletCfg.NetParams = netParams
	walletCfg.Seed = cfg.Seed
	walletCfg.Keystore = cfg.Keystore
	walletCfg.KeystorePath = cfg.KeystorePath
	walletCfg.KeyStateStore = keyState
	walletCfg.Clock = clk
	if cfg.MinConfs != 0 {
		walletCfg.MinConfs = cfg.MinConfs
	}
	w, err := hdwallet.New(walletCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	// Payment protocol.
	verifier, err := paymentproto.NewVerifier(&paymentproto.Config{
		NetParams: netParams,
		Clock:     clk,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	httpCfg := cfg.HTTP
	if httpCfg == nil {
		httpCfg = transport.DefaultHTTPConfig()
	}
	var (
		wireless transport.Transport
		radio    directpay.Radio
	)
	if cfg.Radio != nil {
		wt := transport.NewWirelessTransport(cfg.Radio, httpCfg.Timeout)
		wireless, radio = wt, wt
	}
	router := transport.NewRouter(
		transport.NewHTTPTransport(httpCfg), wireless,
	)

	negotiator, err := payreq.New(&payreq.Config{
		Transport: router,
		Parser:    verifier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiator: %w", err)
	}
	deliverer, err := directpay.New(&directpay.Config{
		Transport: router,
		Radio:     radio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create deliverer: %w", err)
	}

	// Address book.
	dbCfg := cfg.AddressBook
	if dbCfg == nil {
		if cfg.DataDir == "" {
			dbCfg = db.DefaultConfig("")
			dbCfg.UseMemory = true
		} else {
			dbCfg = db.DefaultConfig(
				filepath.Join(cfg.DataDir, addressBookFile),
			)
		}
	}
	addrBook, err := db.Open(dbCfg, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to open address book: %w", err)
	}

	return &Client{
		cfg:         cfg,
		netParams:   netParams,
		clock:       clk,
		mempool:     clients[0],
		broadcaster: broadcaster,
		fees:        fees,
		wallet:      w,
		verifier:    verifier,
		negotiator:  negotiator,
		deliverer:   deliverer,
		addrBook:    addrBook,
		queue:       worker.NewQueue(),
	}, nil
}

// Start starts the client.
func (c *Client) Start() error {
	if err := c.fees.Start(); err != nil {
		return fmt.Errorf("failed to start fee table: %w", err)
	}
	c.queue.Start()

	return nil
}

// Stop stops the client.
func (c *Client) Stop() error {
	c.queue.Stop()
	_ = c.fees.Stop()
	_ = c.broadcaster.Stop()

	return c.addrBook.Close()
}

// NetParams returns the chain parameters of the client.
func (c *Client) NetParams() *chaincfg.Params {
	return c.netParams
}

// Wallet returns the wallet.
func (c *Client) Wallet() *hdwallet.Wallet {
	return c.wallet
}

// Fees returns the fee table.
func (c *Client) Fees() feetable.Table {
	return c.fees
}

// AddressBook returns the address book.
func (c *Client) AddressBook() *db.AddressBook {
	return c.addrBook
}

// ParseIntent turns user input into a payment intent. Input is either a
// bitcoin: URI or a bare address.
func (c *Client) ParseIntent(input string) (payintent.Intent, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(strings.ToLower(input), "bitcoin:") {
		return payintent.ParseURI(input, c.netParams)
	}

	addr, err := btcutil.DecodeAddress(input, c.netParams)
	if err != nil {
		return payintent.Intent{}, fmt.Errorf("invalid address: %w",
			err)
	}
	if !addr.IsForNet(c.netParams) {
		return payintent.Intent{}, fmt.Errorf("address %v is not "+
			"for %s", addr, c.netParams.Name)
	}

	return payintent.FromAddress(addr, 0, "")
}

// ParsePaymentRequest verifies a raw payment request and turns it into a
// payment intent.
func (c *Client) ParsePaymentRequest(raw []byte) (payintent.Intent, error) {
	return c.verifier.ParseIntent(raw)
}

// NewPayment syncs the wallet and returns a started payment workflow. The
// caller stops it once its result was received.
func (c *Client) NewPayment(ctx context.Context) (*sending.Controller,
	error) {

	if err := c.wallet.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync wallet: %w", err)
	}

	cfg := sending.DefaultConfig()
	cfg.NetParams = c.netParams
	cfg.Wallet = c.wallet
	cfg.Estimator = c.wallet.Estimator()
	cfg.Broadcaster = c.broadcaster
	cfg.FeeTable = c.fees
	cfg.Negotiator = c.negotiator
	cfg.Deliverer = c.deliverer
	cfg.AddressBook = c.addrBook
	cfg.Queue = c.queue
	cfg.Clock = c.clock
	cfg.OnKeyUpgraded = c.cfg.OnKeyUpgraded
	if c.cfg.WorkFactor != 0 {
		cfg.WorkFactor = c.cfg.WorkFactor
	}
	if c.cfg.AutoDismissDelay != 0 {
		cfg.AutoDismissDelay = c.cfg.AutoDismissDelay
	}

	ctrl, err := sending.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Start(); err != nil {
		return nil, err
	}

	return ctrl, nil
}
