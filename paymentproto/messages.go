package paymentproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// PKINone marks an unsigned payment request.
	PKINone = "none"

	// PKIX509SHA256 marks a request signed with an X.509 certificate
	// over SHA-256.
	PKIX509SHA256 = "x509+sha256"

	// PKIX509SHA1 marks a request signed over SHA-1. It is recognized
	// but not accepted.
	PKIX509SHA1 = "x509+sha1"

	// NetworkMain is the network name of mainnet requests.
	NetworkMain = "main"

	// AckMemoNack is the memo by which a payee rejects a payment.
	AckMemoNack = "nack"

	signatureField protowire.Number = 5
)

// Output is an output requested by the payee, or a refund output.
type Output struct {
	Amount uint64
	Script []byte
}

// PaymentDetails is the content of a payment request.
type PaymentDetails struct {
	Network      string
	Outputs      []Output
	Time         uint64
	Expires      uint64
	Memo         string
	PaymentURL   string
	MerchantData []byte
}

// PaymentRequest is a payment request with its PKI envelope.
type PaymentRequest struct {
	Version           uint32
	PKIType           string
	PKIData           []byte
	SerializedDetails []byte
	Signature         []byte
}

// X509Certificates is the PKI data of an x509 request. The first
// certificate signed the request, each further one signs the one before.
type X509Certificates struct {
	Certificates [][]byte
}

// Payment is the message a payer sends to the payment URL.
type Payment struct {
	MerchantData []byte
	Transactions [][]byte
	RefundTo     []Output
	Memo         string
}

// PaymentACK is the answer to a Payment.
type PaymentACK struct {
	Payment Payment
	Memo    string
}

// Ack reports whether the payee accepted the payment.
func (a *PaymentACK) Ack() bool {
	return a.Memo != AckMemoNack
}

// Marshal encodes the output.
func (o *Output) Marshal() []byte {
	var b []byte
	if o.Amount != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, o.Amount)
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, o.Script)

	return b
}

// ParseOutput decodes an output.
func ParseOutput(b []byte) (*Output, error) {
	var o Output
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		switch num {
		case 1:
			return consumeVarint(typ, b, &o.Amount)
		case 2:
			return consumeBytes(typ, b, &o.Script)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	return &o, nil
}

// Marshal encodes the payment details.
func (d *PaymentDetails) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, d.Network)
	for i := range d.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Outputs[i].Marshal())
	}
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, d.Time)
	if d.Expires != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, d.Expires)
	}
	b = appendString(b, 5, d.Memo)
	b = appendString(b, 6, d.PaymentURL)
	b = appendBytes(b, 7, d.MerchantData)

	return b
}

// ParsePaymentDetails decodes payment details. A missing network means
// mainnet.
func ParsePaymentDetails(b []byte) (*PaymentDetails, error) {
	var d PaymentDetails
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		switch num {
		case 1:
			return consumeString(typ, b, &d.Network)
		case 2:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			if err != nil {
				return 0, err
			}
			out, err := ParseOutput(raw)
			if err != nil {
				return 0, err
			}
			d.Outputs = append(d.Outputs, *out)
			return n, nil
		case 3:
			return consumeVarint(typ, b, &d.Time)
		case 4:
			return consumeVarint(typ, b, &d.Expires)
		case 5:
			return consumeString(typ, b, &d.Memo)
		case 6:
			return consumeString(typ, b, &d.PaymentURL)
		case 7:
			return consumeBytes(typ, b, &d.MerchantData)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if d.Network == "" {
		d.Network = NetworkMain
	}

	return &d, nil
}

// Marshal encodes the payment request. A non-nil empty signature is
// encoded as an empty field, which is the form that gets signed.
func (r *PaymentRequest) Marshal() []byte {
	var b []byte
	if r.Version != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Version))
	}
	b = appendString(b, 2, r.PKIType)
	b = appendBytes(b, 3, r.PKIData)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, r.SerializedDetails)
	if r.Signature != nil {
		b = protowire.AppendTag(b, signatureField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Signature)
	}

	return b
}

// ParsePaymentRequest decodes a payment request. Missing defaults are
// filled in.
func ParsePaymentRequest(b []byte) (*PaymentRequest, error) {
	var (
		r       PaymentRequest
		version uint64
	)
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		switch num {
		case 1:
			return consumeVarint(typ, b, &version)
		case 2:
			return consumeString(typ, b, &r.PKIType)
		case 3:
			return consumeBytes(typ, b, &r.PKIData)
		case 4:
			return consumeBytes(typ, b, &r.SerializedDetails)
		case signatureField:
			return consumeBytes(typ, b, &r.Signature)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if r.SerializedDetails == nil {
		return nil, fmt.Errorf("%w: missing payment details",
			ErrMalformed)
	}

	r.Version = uint32(version)
	if version == 0 {
		r.Version = 1
	}
	if r.PKIType == "" {
		r.PKIType = PKINone
	}

	return &r, nil
}

// Marshal encodes the certificates.
func (c *X509Certificates) Marshal() []byte {
	var b []byte
	for _, cert := range c.Certificates {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, cert)
	}

	return b
}

// ParseX509Certificates decodes x509 PKI data.
func ParseX509Certificates(b []byte) (*X509Certificates, error) {
	var c X509Certificates
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		if num != 1 {
			return 0, nil
		}

		var cert []byte
		n, err := consumeBytes(typ, b, &cert)
		if err != nil {
			return 0, err
		}
		c.Certificates = append(c.Certificates, cert)
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// Marshal encodes the payment.
func (p *Payment) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, p.MerchantData)
	for _, tx := range p.Transactions {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, tx)
	}
	for i := range p.RefundTo {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, p.RefundTo[i].Marshal())
	}
	b = appendString(b, 4, p.Memo)

	return b
}

// ParsePayment decodes a payment.
func ParsePayment(b []byte) (*Payment, error) {
	var p Payment
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		switch num {
		case 1:
			return consumeBytes(typ, b, &p.MerchantData)
		case 2:
			var tx []byte
			n, err := consumeBytes(typ, b, &tx)
			if err != nil {
				return 0, err
			}
			p.Transactions = append(p.Transactions, tx)
			return n, nil
		case 3:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			if err != nil {
				return 0, err
			}
			out, err := ParseOutput(raw)
			if err != nil {
				return 0, err
			}
			p.RefundTo = append(p.RefundTo, *out)
			return n, nil
		case 4:
			return consumeString(typ, b, &p.Memo)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Marshal encodes the acknowledgement.
func (a *PaymentACK) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Payment.Marshal())
	b = appendString(b, 2, a.Memo)

	return b
}

// ParsePaymentACK decodes an acknowledgement.
func ParsePaymentACK(b []byte) (*PaymentACK, error) {
	var (
		a          PaymentACK
		hasPayment bool
	)
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type,
		b []byte) (int, error) {

		switch num {
		case 1:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			if err != nil {
				return 0, err
			}
			p, err := ParsePayment(raw)
			if err != nil {
				return 0, err
			}
			a.Payment = *p
			hasPayment = true
			return n, nil
		case 2:
			return consumeString(typ, b, &a.Memo)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if !hasPayment {
		return nil, fmt.Errorf("%w: ack without payment", ErrMalformed)
	}

	return &a, nil
}

// unsignedRequest returns raw with the signature field emptied, which is
// what the payee signed. Every other field keeps its original encoding.
func unsignedRequest(raw []byte) ([]byte, error) {
	var out []byte
	for b := raw; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, malformed(m)
		}
		if num != signatureField {
			out = append(out, b[:n+m]...)
		}
		b = b[n+m:]
	}

	out = protowire.AppendTag(out, signatureField, protowire.BytesType)
	out = protowire.AppendBytes(out, nil)

	return out, nil
}

// fieldFunc consumes the value of a field and returns its length. A zero
// length skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type,
	b []byte) (int, error)

func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed(n)
			}
		}
		b = b[n:]
	}

	return nil
}

func consumeVarint(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: wire type %d", ErrMalformed, typ)
	}

	val, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, malformed(n)
	}
	*v = val

	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, v *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: wire type %d", ErrMalformed, typ)
	}

	val, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, malformed(n)
	}
	*v = append([]byte{}, val...)

	return n, nil
}

func consumeString(typ protowire.Type, b []byte, v *string) (int, error) {
	var raw []byte
	n, err := consumeBytes(typ, b, &raw)
	if err != nil {
		return 0, err
	}
	*v = string(raw)

	return n, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, v)
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
