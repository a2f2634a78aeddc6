package payintent

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/transport"
)

// Standard tags the protocol an intent was discovered through.
type Standard uint8

const (
	// StandardNone is a blank intent the user fills in.
	StandardNone Standard = iota

	// StandardBIP21 is an address-only intent, usually from a bitcoin:
	// URI.
	StandardBIP21

	// StandardBIP70 is an intent negotiated with the payment protocol.
	StandardBIP70
)

// String returns the name of the standard.
func (s Standard) String() string {
	switch s {
	case StandardNone:
		return "none"
	case StandardBIP21:
		return "BIP21"
	case StandardBIP70:
		return "BIP70"
	default:
		return fmt.Sprintf("standard(%d)", uint8(s))
	}
}

// Output is a single payment output.
type Output struct {
	// Amount is the value of the output. Zero means the amount is left
	// to the payer.
	Amount btcutil.Amount

	// PkScript is the locking script of the output.
	PkScript []byte
}

// Intent describes what a payment should look like. It is a value: methods
// never modify the receiver and derived intents share no memory with their
// source.
type Intent struct {
	// Standard is the protocol the intent was discovered through.
	Standard Standard

	// PayeeName is the name of the payee, if known.
	PayeeName string

	// PayeeVerifiedBy names the trust anchor that vouched for PayeeName.
	PayeeVerifiedBy string

	// Outputs are the requested outputs.
	Outputs []Output

	// Memo is a note from the payee.
	Memo string

	// PaymentURL is where the signed payment may be delivered directly.
	PaymentURL string

	// PayeeData is an opaque blob to hand back to the payee.
	PayeeData []byte

	// PaymentRequestURL names where a signed payment request can be
	// fetched from.
	PaymentRequestURL string

	// PaymentRequestHash is the expected hash of that payment request.
	PaymentRequestHash []byte
}

// Blank returns an intent with nothing filled in.
func Blank() Intent {
	return Intent{Standard: StandardNone}
}

// FromAddress returns an address-only intent paying amount to addr. A zero
// amount leaves the amount to the payer.
func FromAddress(addr btcutil.Address, amount btcutil.Amount,
	label string) (Intent, error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Intent{}, err
	}

	return Intent{
		Standard: StandardBIP21,
		Outputs: []Output{{
			Amount:   amount,
			PkScript: pkScript,
		}},
		Memo: label,
	}, nil
}

// Clone returns a deep copy of the intent.
func (i Intent) Clone() Intent {
	c := i
	c.Outputs = cloneOutputs(i.Outputs)
	c.PayeeData = cloneBytes(i.PayeeData)
	c.PaymentRequestHash = cloneBytes(i.PaymentRequestHash)

	return c
}

// HasOutputs reports whether the intent names at least one output.
func (i Intent) HasOutputs() bool {
	return len(i.Outputs) > 0
}

// HasAddress reports whether the intent pays exactly one standard address.
func (i Intent) HasAddress() bool {
	if len(i.Outputs) != 1 {
		return false
	}

	class := txscript.GetScriptClass(i.Outputs[0].PkScript)
	return class != txscript.NonStandardTy &&
		class != txscript.NullDataTy &&
		class != txscript.MultiSigTy
}

// Address decodes the address of a single output intent.
func (i Intent) Address(params *chaincfg.Params) (btcutil.Address, error) {
	if !i.HasAddress() {
		return nil, ErrNoAddress
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		i.Outputs[0].PkScript, params,
	)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, ErrNoAddress
	}

	return addrs[0], nil
}

// HasAmount reports whether any output carries a non-zero amount.
func (i Intent) HasAmount() bool {
	for _, out := range i.Outputs {
		if out.Amount != 0 {
			return true
		}
	}

	return false
}

// Amount returns the sum of all output amounts.
func (i Intent) Amount() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range i.Outputs {
		total += out.Amount
	}

	return total
}

// HasPayee reports whether the payee is known by name.
func (i Intent) HasPayee() bool {
	return i.PayeeName != ""
}

// MayEditAmount reports whether the payer may choose the amount.
func (i Intent) MayEditAmount() bool {
	return !i.HasAmount()
}

// MayEditAddress reports whether the payer may choose the address.
func (i Intent) MayEditAddress() bool {
	return !i.HasOutputs()
}

// HasPaymentURL reports whether direct delivery is possible at all.
func (i Intent) HasPaymentURL() bool {
	return i.PaymentURL != ""
}

// IsSupportedPaymentURL reports whether a transport exists for PaymentURL.
func (i Intent) IsSupportedPaymentURL() bool {
	return transport.Classify(i.PaymentURL) != transport.KindUnknown
}

// HasPaymentRequestURL reports whether a payment request must be fetched
// before the intent is complete.
func (i Intent) HasPaymentRequestURL() bool {
	return i.PaymentRequestURL != ""
}

// TxOuts converts the outputs into wire outputs.
func (i Intent) TxOuts() []*wire.TxOut {
	outs := make([]*wire.TxOut, 0, len(i.Outputs))
	for _, out := range i.Outputs {
		outs = append(outs, wire.NewTxOut(
			int64(out.Amount), cloneBytes(out.PkScript),
		))
	}

	return outs
}

// MergeWithEditedValues returns a new intent with the fields the payer was
// allowed to edit substituted. A nil editedAmount or editedAddress means the
// field was not edited. The result must carry both an amount and an address.
func (i Intent) MergeWithEditedValues(editedAmount *btcutil.Amount,
	editedAddress btcutil.Address) (Intent, error) {

	var outputs []Output
	switch {
	case i.HasOutputs() && i.MayEditAmount():
		if editedAmount == nil {
			return Intent{}, ErrMissingAmount
		}

		// Only the first output can take an edited amount.
		outputs = []Output{{
			Amount:   *editedAmount,
			PkScript: cloneBytes(i.Outputs[0].PkScript),
		}}

	case i.HasOutputs():
		outputs = cloneOutputs(i.Outputs)

	default:
		if editedAmount == nil {
			return Intent{}, ErrMissingAmount
		}
		if editedAddress == nil {
			return Intent{}, ErrMissingAddress
		}

		pkScript, err := txscript.PayToAddrScript(editedAddress)
		if err != nil {
			return Intent{}, fmt.Errorf("%w: %v", ErrMissingAddress,
				err)
		}
		outputs = []Output{{
			Amount:   *editedAmount,
			PkScript: pkScript,
		}}
	}

	return Intent{
		Standard:        i.Standard,
		PayeeName:       i.PayeeName,
		PayeeVerifiedBy: i.PayeeVerifiedBy,
		Outputs:         outputs,
		Memo:            i.Memo,
		PayeeData:       cloneBytes(i.PayeeData),
	}, nil
}

// IsExtendedBy reports whether other is a faithful refinement of the
// receiver: it pays the same addresses and, if the receiver fixed an
// amount, the same amount.
func (i Intent) IsExtendedBy(other Intent) bool {
	if !i.HasOutputs() {
		return true
	}
	if len(other.Outputs) != len(i.Outputs) {
		return false
	}

	return i.EqualsAddress(other) && i.EqualsAmount(other)
}

// EqualsAddress reports whether every output script of the receiver is
// present at the same index in other.
func (i Intent) EqualsAddress(other Intent) bool {
	if len(other.Outputs) < len(i.Outputs) {
		return false
	}
	for idx, out := range i.Outputs {
		if !bytes.Equal(out.PkScript, other.Outputs[idx].PkScript) {
			return false
		}
	}

	return true
}

// EqualsAmount reports whether other pays the amount the receiver fixed.
// It is trivially true if the receiver left the amount open.
func (i Intent) EqualsAmount(other Intent) bool {
	if !i.HasAmount() {
		return true
	}

	return other.HasAmount() && other.Amount() == i.Amount()
}

// String returns a short description for logging.
func (i Intent) String() string {
	return fmt.Sprintf("intent(%v, outputs=%d, amount=%v, payee=%q, "+
		"pr=%q, pay=%q)", i.Standard, len(i.Outputs), i.Amount(),
		i.PayeeName, i.PaymentRequestURL, i.PaymentURL)
}

func cloneOutputs(outs []Output) []Output {
	if outs == nil {
		return nil
	}

	c := make([]Output, len(outs))
	for idx, out := range outs {
		c[idx] = Output{
			Amount:   out.Amount,
			PkScript: cloneBytes(out.PkScript),
		}
	}

	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}
