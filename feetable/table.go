package feetable

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/singleflight"
)

// Table is the read side of a fee policy table. The table may be absent, in
// which case ok is false and no payment can be confirmed.
type Table interface {
	// Rates returns a copy of the current table.
	Rates() (rates Rates, ok bool)
}

// RateSource fetches a fresh table from a fee estimation backend.
type RateSource interface {
	// FetchRates returns the current rate of every category.
	FetchRates(ctx context.Context) (Rates, error)
}

// Static is a Table that never changes.
type Static Rates

// Rates returns the fixed table, if it is non-empty.
func (s Static) Rates() (Rates, bool) {
	if len(s) == 0 {
		return nil, false
	}

	return Rates(s).clone(), true
}

// Config holds the configuration of a Refresher.
type Config struct {
	// Source is queried for new rates.
	Source RateSource

	// Ticker drives periodic refreshes.
	Ticker ticker.Ticker

	// FetchTimeout bounds a single refresh.
	FetchTimeout time.Duration

	// Fallback is served until the first successful refresh. It may be
	// nil, in which case the table is absent until then.
	Fallback Rates
}

// DefaultConfig returns a configuration refreshing every five minutes.
func DefaultConfig(src RateSource) *Config {
	return &Config{
		Source:       src,
		Ticker:       ticker.New(5 * time.Minute),
		FetchTimeout: 30 * time.Second,
	}
}

// Refresher keeps a Table current by polling a RateSource.
type Refresher struct {
	cfg *Config

	group singleflight.Group

	mu          sync.RWMutex
	rates       Rates
	subscribers map[uint64]chan struct{}
	nextSubID   uint64

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// A compile-time assertion that Refresher satisfies Table.
var _ Table = (*Refresher)(nil)

// NewRefresher creates a new refresher.
func NewRefresher(cfg *Config) (*Refresher, error) {
	if cfg == nil || cfg.Source == nil {
		return nil, ErrNoSource
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(5 * time.Minute)
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	var rates Rates
	if cfg.Fallback != nil {
		if err := cfg.Fallback.Validate(); err != nil {
			return nil, err
		}
		rates = cfg.Fallback.clone()
	}

	return &Refresher{
		cfg:         cfg,
		rates:       rates,
		subscribers: make(map[uint64]chan struct{}),
		quit:        make(chan struct{}),
	}, nil
}

// Start fetches an initial table and begins periodic refreshes. A failed
// initial fetch is not fatal.
func (r *Refresher) Start() error {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), r.cfg.FetchTimeout,
		)
		if err := r.Refresh(ctx); err != nil {
			log.Warnf("Initial fee refresh failed: %v", err)
		}
		cancel()

		r.cfg.Ticker.Resume()

		r.wg.Add(1)
		go r.refreshLoop()
	})

	return nil
}

// Stop halts periodic refreshes.
func (r *Refresher) Stop() error {
	r.stopOnce.Do(func() {
		close(r.quit)
		r.cfg.Ticker.Stop()
		r.wg.Wait()
	})

	return nil
}

func (r *Refresher) refreshLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.cfg.Ticker.Ticks():
			ctx, cancel := context.WithTimeout(
				context.Background(), r.cfg.FetchTimeout,
			)
			if err := r.Refresh(ctx); err != nil {
				log.Warnf("Fee refresh failed: %v", err)
			}
			cancel()

		case <-r.quit:
			return
		}
	}
}

// Refresh fetches a new table now. Concurrent callers share one fetch.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("rates", func() (interface{}, error) {
		rates, err := r.cfg.Source.FetchRates(ctx)
		if err != nil {
			return nil, err
		}
		if err := rates.Validate(); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.rates = rates.clone()
		subs := make([]chan struct{}, 0, len(r.subscribers))
		for _, sub := range r.subscribers {
			subs = append(subs, sub)
		}
		r.mu.Unlock()

		log.Debugf("Fee table updated: economic=%v normal=%v "+
			"priority=%v", rates[CategoryEconomic],
			rates[CategoryNormal], rates[CategoryPriority])

		for _, sub := range subs {
			select {
			case sub <- struct{}{}:
			default:
			}
		}

		return nil, nil
	})

	return err
}

// Rates returns a copy of the current table.
func (r *Refresher) Rates() (Rates, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.rates == nil {
		return nil, false
	}

	return r.rates.clone(), true
}

// Subscribe returns a channel that receives a signal after every table
// update, and a function releasing the subscription. Signals coalesce.
func (r *Refresher) Subscribe() (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++

	sub := make(chan struct{}, 1)
	r.subscribers[id] = sub

	return sub, func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}
