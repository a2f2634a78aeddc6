package paymentproto

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightningnetwork/lnd/clock"
)

// networkNames maps payment request network names to chain names.
var networkNames = map[string]string{
	NetworkMain: chaincfg.MainNetParams.Name,
	"test":      chaincfg.TestNet3Params.Name,
	"regtest":   chaincfg.RegressionNetParams.Name,
	"signet":    chaincfg.SigNetParams.Name,
	"simnet":    chaincfg.SimNetParams.Name,
}

// Config holds configuration for the Verifier.
type Config struct {
	// NetParams is the network requests must be for.
	NetParams *chaincfg.Params

	// Roots are the trusted certificate authorities. If nil, the system
	// roots are used.
	Roots *x509.CertPool

	// Clock is used for expiry and certificate validity.
	Clock clock.Clock
}

// Verifier checks payment requests and turns them into payment intents.
type Verifier struct {
	cfg *Config
}

// NewVerifier creates a new Verifier.
func NewVerifier(cfg *Config) (*Verifier, error) {
	if cfg == nil || cfg.NetParams == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Verifier{cfg: cfg}, nil
}

// VerifiedRequest is a payment request that passed verification.
type VerifiedRequest struct {
	// Request is the envelope.
	Request *PaymentRequest

	// Details are the decoded payment details.
	Details *PaymentDetails

	// PayeeName is the organization or common name of the signing
	// certificate. Empty for unsigned requests.
	PayeeName string

	// VerifiedBy names the root authority that vouched for PayeeName.
	VerifiedBy string

	// Hash is the SHA-256 of the raw request.
	Hash []byte
}

// Verify decodes raw and checks its network, expiry and, for signed
// requests, the certificate chain and signature. Every failure is a
// *VerificationError.
func (v *Verifier) Verify(raw []byte) (*VerifiedRequest, error) {
	verified, err := v.verify(raw)
	if err != nil {
		log.Debugf("Payment request rejected: %v", err)
		return nil, &VerificationError{Err: err}
	}

	return verified, nil
}

func (v *Verifier) verify(raw []byte) (*VerifiedRequest, error) {
	req, err := ParsePaymentRequest(raw)
	if err != nil {
		return nil, err
	}
	if req.Version != 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion,
			req.Version)
	}

	details, err := ParsePaymentDetails(req.SerializedDetails)
	if err != nil {
		return nil, err
	}

	if networkNames[details.Network] != v.cfg.NetParams.Name {
		return nil, fmt.Errorf("%w: %q", ErrWrongNetwork,
			details.Network)
	}

	now := v.cfg.Clock.Now()
	if details.Expires != 0 &&
		now.After(time.Unix(int64(details.Expires), 0)) {

		return nil, ErrExpired
	}

	if len(details.Outputs) == 0 {
		return nil, ErrNoOutputs
	}

	hash := sha256.Sum256(raw)
	verified := &VerifiedRequest{
		Request: req,
		Details: details,
		Hash:    hash[:],
	}

	switch req.PKIType {
	case PKINone:
		return verified, nil

	case PKIX509SHA256:
		payee, root, err := v.verifyX509(raw, req, now)
		if err != nil {
			return nil, err
		}
		verified.PayeeName = displayName(payee)
		verified.VerifiedBy = displayName(root)

		return verified, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPKI, req.PKIType)
	}
}

// verifyX509 checks the chain and signature and returns the leaf and root
// certificates.
func (v *Verifier) verifyX509(raw []byte, req *PaymentRequest,
	now time.Time) (*x509.Certificate, *x509.Certificate, error) {

	certs, err := ParseX509Certificates(req.PKIData)
	if err != nil {
		return nil, nil, err
	}
	if len(certs.Certificates) == 0 {
		return nil, nil, ErrNoCertificates
	}

	leaf, err := x509.ParseCertificate(certs.Certificates[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
	}

	intermediates := x509.NewCertPool()
	for _, der := range certs.Certificates[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUntrustedChain,
				err)
		}
		intermediates.AddCert(cert)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.cfg.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
	}

	var algo x509.SignatureAlgorithm
	switch leaf.PublicKeyAlgorithm {
	case x509.RSA:
		algo = x509.SHA256WithRSA
	case x509.ECDSA:
		algo = x509.ECDSAWithSHA256
	default:
		return nil, nil, fmt.Errorf("%w: key type %v",
			ErrUnsupportedPKI, leaf.PublicKeyAlgorithm)
	}

	signed, err := unsignedRequest(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := leaf.CheckSignature(algo, signed, req.Signature); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	chain := chains[0]

	return leaf, chain[len(chain)-1], nil
}

// Intent converts the request into a payment-protocol intent.
func (r *VerifiedRequest) Intent() payintent.Intent {
	outputs := make([]payintent.Output, len(r.Details.Outputs))
	for i, out := range r.Details.Outputs {
		outputs[i] = payintent.Output{
			Amount:   btcutil.Amount(out.Amount),
			PkScript: append([]byte(nil), out.Script...),
		}
	}

	return payintent.Intent{
		Standard:           payintent.StandardBIP70,
		PayeeName:          r.PayeeName,
		PayeeVerifiedBy:    r.VerifiedBy,
		Outputs:            outputs,
		Memo:               r.Details.Memo,
		PaymentURL:         r.Details.PaymentURL,
		PayeeData:          append([]byte(nil), r.Details.MerchantData...),
		PaymentRequestHash: append([]byte(nil), r.Hash...),
	}
}

// ParseIntent verifies a raw payment request and returns its intent.
func (v *Verifier) ParseIntent(raw []byte) (payintent.Intent, error) {
	verified, err := v.Verify(raw)
	if err != nil {
		return payintent.Intent{}, err
	}

	return verified.Intent(), nil
}

func displayName(cert *x509.Certificate) string {
	if len(cert.Subject.Organization) > 0 {
		return cert.Subject.Organization[0]
	}

	return cert.Subject.CommonName
}
