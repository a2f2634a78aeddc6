package paymentproto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CreatePayment packages a signed transaction for the payee. A refund
// output for amount is added when refund is not nil.
func CreatePayment(tx *wire.MsgTx, amount btcutil.Amount,
	refund btcutil.Address, memo string,
	merchantData []byte) (*Payment, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	payment := &Payment{
		MerchantData: append([]byte(nil), merchantData...),
		Transactions: [][]byte{buf.Bytes()},
		Memo:         memo,
	}

	if refund != nil {
		script, err := txscript.PayToAddrScript(refund)
		if err != nil {
			return nil, err
		}
		payment.RefundTo = []Output{{
			Amount: uint64(amount),
			Script: script,
		}}
	}

	return payment, nil
}

// ParseACK decodes an acknowledgement and reports whether the payee
// accepted the payment.
func ParseACK(raw []byte) (bool, error) {
	ack, err := ParsePaymentACK(raw)
	if err != nil {
		return false, err
	}

	if ack.Memo != "" {
		log.Debugf("Payment ack memo: %q", ack.Memo)
	}

	return ack.Ack(), nil
}
