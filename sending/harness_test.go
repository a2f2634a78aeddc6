package sending

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const (
	// testFeeRate is 0.0001 BTC/kvB.
	testFeeRate = 10_000

	oneBTC = btcutil.Amount(btcutil.SatoshiPerBitcoin)
)

var (
	testParams = &chaincfg.RegressionNetParams

	testTime = time.Unix(1_700_000_000, 0)
)

func testAddress(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{seed}, 20), testParams,
	)
	require.NoError(t, err)

	return addr
}

func testScript(t *testing.T, seed byte) []byte {
	t.Helper()

	pkScript, err := txscript.PayToAddrScript(testAddress(t, seed))
	require.NoError(t, err)

	return pkScript
}

func testRates() feetable.Static {
	return feetable.Static{
		feetable.CategoryEconomic: testFeeRate / 2,
		feetable.CategoryNormal:   testFeeRate,
		feetable.CategoryPriority: testFeeRate * 2,
	}
}

func amountPtr(a btcutil.Amount) *btcutil.Amount {
	return &a
}

type fakeWallet struct {
	mu sync.Mutex

	estimator  *dryrun.Estimator
	coins      []dryrun.Coin
	change     []byte
	refund     btcutil.Address
	mine       map[string]bool
	encrypted  bool
	passphrase string
	upgrade    bool
	deriveGate chan struct{}
	signErr    error
	commits    []*wallet.SendRequest
}

var _ wallet.Wallet = (*fakeWallet)(nil)

func newFakeWallet(t *testing.T, balance ...btcutil.Amount) *fakeWallet {
	w := &fakeWallet{
		estimator: dryrun.NewEstimator(nil),
		change:    testScript(t, 0xcc),
		refund:    testAddress(t, 0xee),
		mine:      make(map[string]bool),
	}
	for i, amount := range balance {
		w.coins = append(w.coins, dryrun.Coin{
			OutPoint: wire.OutPoint{
				Hash: chainhash.Hash{byte(i + 1)},
			},
			Amount:        amount,
			PkScript:      testScript(t, byte(0xa0+i)),
			Confirmations: 6,
		})
	}

	return w
}

func (w *fakeWallet) setCoins(coins []dryrun.Coin) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.coins = coins
}

func (w *fakeWallet) numCommits() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.commits)
}

func (w *fakeWallet) Balance(context.Context,
	wallet.BalanceType) (btcutil.Amount, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	var total btcutil.Amount
	for _, coin := range w.coins {
		total += coin.Amount
	}

	return total, nil
}

func (w *fakeWallet) Coins(context.Context) ([]dryrun.Coin, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]dryrun.Coin(nil), w.coins...), nil
}

func (w *fakeWallet) CurrentReceiveAddress() (btcutil.Address, error) {
	return w.refund, nil
}

func (w *fakeWallet) CurrentChangeScript() ([]byte, error) {
	return w.change, nil
}

func (w *fakeWallet) IsAddressMine(addr btcutil.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.mine[addr.EncodeAddress()]
}

func (w *fakeWallet) IsEncrypted() bool {
	return w.encrypted
}

func (w *fakeWallet) DeriveKey(ctx context.Context, passphrase string,
	_ uint64) (wallet.EncryptionKey, bool, error) {

	if w.deriveGate != nil {
		select {
		case <-w.deriveGate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if !w.encrypted {
		return nil, false, wallet.ErrNotEncrypted
	}

	return wallet.EncryptionKey(passphrase), w.upgrade, nil
}

func (w *fakeWallet) SignAndCommit(ctx context.Context,
	req *wallet.SendRequest) (*wallet.SendResult, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.encrypted && string(req.Key) != w.passphrase {
		return nil, wallet.ErrInvalidEncryptionKey
	}
	if w.signErr != nil {
		return nil, w.signErr
	}

	res, err := w.estimator.Estimate(ctx, &dryrun.Request{
		Outputs:      req.Outputs,
		EmptyWallet:  req.EmptyWallet,
		FeeRate:      req.FeeRate,
		Coins:        w.coins,
		ChangeScript: w.change,
	})
	if err != nil {
		return nil, err
	}
	w.commits = append(w.commits, req)

	return &wallet.SendResult{
		Tx:     res.Tx,
		Fee:    res.Fee,
		Amount: res.Amount,
	}, nil
}

func (w *fakeWallet) FreshRefundAddress(
	context.Context) (btcutil.Address, error) {

	return w.refund, nil
}

type fakeBroadcaster struct {
	published chan *wire.MsgTx
	conf      chan wallet.Confidence

	// publishErr is returned after the transaction was recorded.
	publishErr error
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		published: make(chan *wire.MsgTx, 4),
		conf:      make(chan wallet.Confidence, 4),
	}
}

func (b *fakeBroadcaster) PublishTransaction(_ context.Context,
	tx *wire.MsgTx) error {

	b.published <- tx
	return b.publishErr
}

func (b *fakeBroadcaster) SubscribeConfidence(
	chainhash.Hash) (<-chan wallet.Confidence, func()) {

	return b.conf, func() {}
}

type negotiation struct {
	intent payintent.Intent
	err    error
}

type fakeNegotiator struct {
	mu      sync.Mutex
	gate    chan struct{}
	replies []negotiation
	calls   int
}

func (n *fakeNegotiator) Fetch(ctx context.Context,
	_ payintent.Intent) (payintent.Intent, error) {

	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return payintent.Intent{}, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// The last reply repeats.
	idx := n.calls
	if idx >= len(n.replies) {
		idx = len(n.replies) - 1
	}
	n.calls++

	return n.replies[idx].intent, n.replies[idx].err
}

func (n *fakeNegotiator) numCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.calls
}

type delivery struct {
	ack bool
	err error
}

type fakeDeliverer struct {
	enabled bool
	replies chan delivery
	calls   int32
	last    atomic.Pointer[paymentproto.Payment]
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		enabled: true,
		replies: make(chan delivery),
	}
}

func (d *fakeDeliverer) Deliver(ctx context.Context, _ string,
	payment *paymentproto.Payment) (bool, error) {

	d.last.Store(payment)
	atomic.AddInt32(&d.calls, 1)

	select {
	case reply := <-d.replies:
		return reply.ack, reply.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *fakeDeliverer) DefaultEnabled(string) bool {
	return d.enabled
}

func (d *fakeDeliverer) numCalls() int {
	return int(atomic.LoadInt32(&d.calls))
}

type fakeAddressBook map[string]string

func (f fakeAddressBook) Label(_ context.Context,
	address string) (string, error) {

	return f[address], nil
}

type harness struct {
	t *testing.T

	ctrl   *Controller
	wallet *fakeWallet
	bcast  *fakeBroadcaster
	neg    *fakeNegotiator
	dlv    *fakeDeliverer
	clock  *clock.TestClock
	ticks  chan time.Duration
}

func newHarness(t *testing.T, w *fakeWallet,
	modify ...func(*Config)) *harness {

	t.Helper()

	h := &harness{
		t:      t,
		wallet: w,
		bcast:  newFakeBroadcaster(),
		neg:    &fakeNegotiator{},
		dlv:    newFakeDeliverer(),
		ticks:  make(chan time.Duration, 10),
	}
	h.clock = clock.NewTestClockWithTickSignal(testTime, h.ticks)

	cfg := DefaultConfig()
	cfg.NetParams = testParams
	cfg.Wallet = w
	cfg.Broadcaster = h.bcast
	cfg.FeeTable = testRates()
	cfg.Negotiator = h.neg
	cfg.Deliverer = h.dlv
	cfg.Clock = h.clock
	cfg.WorkFactor = 1 << 4
	cfg.AutoDismissDelay = 0
	for _, m := range modify {
		m(cfg)
	}

	ctrl, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	t.Cleanup(func() {
		require.NoError(t, ctrl.Stop())
	})
	h.ctrl = ctrl

	return h
}

func (h *harness) waitFor(pred func(Snapshot) bool) Snapshot {
	h.t.Helper()

	var snap Snapshot
	require.Eventually(h.t, func() bool {
		snap = h.ctrl.Snapshot()
		return pred(snap)
	}, 5*time.Second, 5*time.Millisecond)

	return snap
}

func (h *harness) waitState(state State) Snapshot {
	h.t.Helper()

	return h.waitFor(func(s Snapshot) bool {
		return s.State == state
	})
}

func (h *harness) waitDryRun() Snapshot {
	h.t.Helper()

	return h.waitFor(func(s Snapshot) bool {
		return s.DryRun != nil
	})
}

func (h *harness) waitDone() Result {
	h.t.Helper()

	select {
	case res := <-h.ctrl.Done():
		return res
	case <-time.After(5 * time.Second):
		h.t.Fatal("workflow did not finish")
		return Result{}
	}
}

// payTo returns an address intent with a fixed amount.
func payTo(t *testing.T, seed byte, amount btcutil.Amount) payintent.Intent {
	t.Helper()

	intent, err := payintent.FromAddress(testAddress(t, seed), amount, "")
	require.NoError(t, err)

	return intent
}
