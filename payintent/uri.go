package payintent

import (
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"
)

const (
	// uriScheme is the scheme of a payment URI.
	uriScheme = "bitcoin:"

	paramAmount         = "amount"
	paramLabel          = "label"
	paramMessage        = "message"
	paramPaymentRequest = "r"
	paramWireless       = "bt"

	requiredPrefix = "req-"
)

// ParseURI parses a bitcoin: payment URI into an address-only intent. The
// intent carries a payment request URL when the URI names one, in which case
// the request must be fetched before the intent is complete.
func ParseURI(uri string, params *chaincfg.Params) (Intent, error) {
	fail := func(reason string, err error) (Intent, error) {
		return Intent{}, &URIError{URI: uri, Reason: reason, Err: err}
	}

	if len(uri) < len(uriScheme) ||
		!strings.EqualFold(uri[:len(uriScheme)], uriScheme) {

		return fail("not a bitcoin: URI", nil)
	}

	rest := strings.TrimPrefix(uri[len(uriScheme):], "//")
	addrPart, rawQuery, _ := strings.Cut(rest, "?")

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fail("malformed parameters", err)
	}
	for key, values := range query {
		if len(values) > 1 {
			return fail("duplicate parameter "+key, nil)
		}
		if strings.HasPrefix(key, requiredPrefix) {
			return fail("unsupported required parameter "+key, nil)
		}
	}

	intent := Intent{
		Standard:          StandardBIP21,
		Memo:              query.Get(paramLabel),
		PaymentRequestURL: query.Get(paramPaymentRequest),
	}
	if intent.Memo == "" {
		intent.Memo = query.Get(paramMessage)
	}
	if mac := query.Get(paramWireless); mac != "" {
		intent.PaymentURL = "bt:" + mac
	}

	var amount btcutil.Amount
	if raw := query.Get(paramAmount); raw != "" {
		amount, err = parseBTC(raw)
		if err != nil {
			return fail("bad amount "+raw, err)
		}
	}

	addrPart, err = url.PathUnescape(addrPart)
	if err != nil {
		return fail("malformed address", err)
	}

	switch {
	case addrPart != "":
		addr, err := btcutil.DecodeAddress(addrPart, params)
		if err != nil {
			return fail("bad address", err)
		}
		if !addr.IsForNet(params) {
			return fail("address is for a different network", nil)
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return fail("bad address", err)
		}
		intent.Outputs = []Output{{
			Amount:   amount,
			PkScript: pkScript,
		}}

	case intent.PaymentRequestURL == "":
		return fail("no address and no payment request", nil)

	case amount != 0:
		return fail("amount without address", nil)
	}

	return intent, nil
}

// parseBTC parses a decimal BTC amount into satoshis.
func parseBTC(raw string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}

	sats := d.Shift(8)
	switch {
	case sats.IsNegative():
		return 0, errNegativeAmount
	case !sats.Equal(sats.Truncate(0)):
		return 0, errFractionalSatoshi
	case sats.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)):
		return 0, errAmountTooLarge
	}

	return btcutil.Amount(sats.IntPart()), nil
}
