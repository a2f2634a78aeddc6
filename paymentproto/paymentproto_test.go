package paymentproto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

type testPKI struct {
	root     *x509.Certificate
	rootDER  []byte
	leafDER  []byte
	leafKey  *ecdsa.PrivateKey
	rootPool *x509.CertPool
}

func newCert(t *testing.T, serial int64, subject pkix.Name, isCA bool,
	parent *x509.Certificate, parentKey *ecdsa.PrivateKey) ([]byte,
	*x509.Certificate, *ecdsa.PrivateKey) {

	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               subject,
		NotBefore:             testNow.Add(-time.Hour),
		NotAfter:              testNow.Add(time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}
	if isCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}

	signer := key
	if parent == nil {
		parent = tmpl
	} else {
		signer = parentKey
	}

	der, err := x509.CreateCertificate(
		rand.Reader, tmpl, parent, &key.PublicKey, signer,
	)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return der, cert, key
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	rootDER, root, rootKey := newCert(
		t, 1, pkix.Name{Organization: []string{"Test Root"}}, true,
		nil, nil,
	)
	leafDER, _, leafKey := newCert(
		t, 2, pkix.Name{
			Organization: []string{"Merchant Inc"},
			CommonName:   "pay.merchant.example",
		}, false, root, rootKey,
	)

	pool := x509.NewCertPool()
	pool.AddCert(root)

	return &testPKI{
		root:     root,
		rootDER:  rootDER,
		leafDER:  leafDER,
		leafKey:  leafKey,
		rootPool: pool,
	}
}

func testScript(t *testing.T) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

func testDetails(t *testing.T) *PaymentDetails {
	return &PaymentDetails{
		Network:      "regtest",
		Outputs:      []Output{{Amount: 50_000, Script: testScript(t)}},
		Time:         uint64(testNow.Unix()),
		Expires:      uint64(testNow.Add(time.Hour).Unix()),
		Memo:         "order 42",
		PaymentURL:   "https://merchant.example/pay",
		MerchantData: []byte{1, 2, 3},
	}
}

func signRequest(t *testing.T, pki *testPKI,
	details *PaymentDetails) []byte {

	t.Helper()

	certs := &X509Certificates{Certificates: [][]byte{pki.leafDER}}
	req := &PaymentRequest{
		PKIType:           PKIX509SHA256,
		PKIData:           certs.Marshal(),
		SerializedDetails: details.Marshal(),
		Signature:         []byte{},
	}

	digest := sha256.Sum256(req.Marshal())
	sig, err := ecdsa.SignASN1(rand.Reader, pki.leafKey, digest[:])
	require.NoError(t, err)
	req.Signature = sig

	return req.Marshal()
}

func newTestVerifier(t *testing.T, roots *x509.CertPool) *Verifier {
	t.Helper()

	v, err := NewVerifier(&Config{
		NetParams: &chaincfg.RegressionNetParams,
		Roots:     roots,
		Clock:     clock.NewTestClock(testNow),
	})
	require.NoError(t, err)

	return v
}

func TestNewVerifierInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewVerifier(&Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	details := &PaymentDetails{
		Outputs: []Output{{Script: []byte{0x51}}},
		Time:    1,
	}
	parsed, err := ParsePaymentDetails(details.Marshal())
	require.NoError(t, err)
	require.Equal(t, NetworkMain, parsed.Network)
	require.Zero(t, parsed.Outputs[0].Amount)

	req := &PaymentRequest{SerializedDetails: details.Marshal()}
	parsedReq, err := ParsePaymentRequest(req.Marshal())
	require.NoError(t, err)
	require.Equal(t, uint32(1), parsedReq.Version)
	require.Equal(t, PKINone, parsedReq.PKIType)

	_, err = ParsePaymentRequest([]byte{0x0a, 0x05})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = ParsePaymentRequest(nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyUnsigned(t *testing.T) {
	t.Parallel()

	details := testDetails(t)
	req := &PaymentRequest{SerializedDetails: details.Marshal()}

	intent, err := newTestVerifier(t, nil).ParseIntent(req.Marshal())
	require.NoError(t, err)

	require.Equal(t, payintent.StandardBIP70, intent.Standard)
	require.False(t, intent.HasPayee())
	require.Len(t, intent.Outputs, 1)
	require.Equal(t, btcutil.Amount(50_000), intent.Amount())
	require.Equal(t, "order 42", intent.Memo)
	require.Equal(t, "https://merchant.example/pay", intent.PaymentURL)
	require.Equal(t, []byte{1, 2, 3}, intent.PayeeData)
	require.Len(t, intent.PaymentRequestHash, sha256.Size)
}

func TestVerifySigned(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t)
	raw := signRequest(t, pki, testDetails(t))

	verified, err := newTestVerifier(t, pki.rootPool).Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "Merchant Inc", verified.PayeeName)
	require.Equal(t, "Test Root", verified.VerifiedBy)

	intent := verified.Intent()
	require.True(t, intent.HasPayee())
	require.Equal(t, "Test Root", intent.PayeeVerifiedBy)
}

func TestVerifyFailures(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t)
	other := newTestPKI(t)

	tampered := func() []byte {
		raw := signRequest(t, pki, testDetails(t))
		req, err := ParsePaymentRequest(raw)
		require.NoError(t, err)

		details := testDetails(t)
		details.Outputs[0].Amount = 1
		req.SerializedDetails = details.Marshal()

		return req.Marshal()
	}

	mainnet := testDetails(t)
	mainnet.Network = ""

	expired := testDetails(t)
	expired.Expires = uint64(testNow.Add(-time.Minute).Unix())

	empty := testDetails(t)
	empty.Outputs = nil

	unsigned := func(d *PaymentDetails) []byte {
		req := &PaymentRequest{SerializedDetails: d.Marshal()}
		return req.Marshal()
	}

	tests := []struct {
		name  string
		raw   []byte
		roots *x509.CertPool
		err   error
	}{{
		name:  "tampered details",
		raw:   tampered(),
		roots: pki.rootPool,
		err:   ErrInvalidSignature,
	}, {
		name:  "untrusted root",
		raw:   signRequest(t, pki, testDetails(t)),
		roots: other.rootPool,
		err:   ErrUntrustedChain,
	}, {
		name: "wrong network",
		raw:  unsigned(mainnet),
		err:  ErrWrongNetwork,
	}, {
		name: "expired",
		raw:  unsigned(expired),
		err:  ErrExpired,
	}, {
		name: "no outputs",
		raw:  unsigned(empty),
		err:  ErrNoOutputs,
	}, {
		name: "sha1",
		raw: (&PaymentRequest{
			PKIType:           PKIX509SHA1,
			SerializedDetails: testDetails(t).Marshal(),
		}).Marshal(),
		err: ErrUnsupportedPKI,
	}, {
		name: "no certificates",
		raw: (&PaymentRequest{
			PKIType:           PKIX509SHA256,
			SerializedDetails: testDetails(t).Marshal(),
		}).Marshal(),
		err: ErrNoCertificates,
	}, {
		name: "version",
		raw: (&PaymentRequest{
			Version:           2,
			SerializedDetails: testDetails(t).Marshal(),
		}).Marshal(),
		err: ErrUnsupportedVersion,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := newTestVerifier(t, tc.roots).Verify(tc.raw)
			require.ErrorIs(t, err, tc.err)

			var verr *VerificationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestUnsignedRequestKeepsUnknownFields(t *testing.T) {
	t.Parallel()

	req := &PaymentRequest{
		SerializedDetails: []byte{0x18, 0x01},
		Signature:         []byte{9, 9},
	}
	raw := append(req.Marshal(), 0x30, 0x07)

	signed, err := unsignedRequest(raw)
	require.NoError(t, err)

	req.Signature = nil
	want := append(req.Marshal(), 0x30, 0x07, 0x2a, 0x00)
	require.Equal(t, want, signed)
}

func TestPaymentAndACK(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, testScript(t)))

	refund, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	payment, err := CreatePayment(tx, 1000, refund, "", []byte{7})
	require.NoError(t, err)
	require.Len(t, payment.RefundTo, 1)
	require.Equal(t, uint64(1000), payment.RefundTo[0].Amount)

	parsed, err := ParsePayment(payment.Marshal())
	require.NoError(t, err)
	require.Equal(t, payment, parsed)

	noRefund, err := CreatePayment(tx, 1000, nil, "", nil)
	require.NoError(t, err)
	require.Empty(t, noRefund.RefundTo)

	ack := &PaymentACK{Payment: *payment, Memo: "thanks"}
	ok, err := ParseACK(ack.Marshal())
	require.NoError(t, err)
	require.True(t, ok)

	nack := &PaymentACK{Payment: *payment, Memo: AckMemoNack}
	ok, err = ParseACK(nack.Marshal())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = ParseACK([]byte{0x12, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}
