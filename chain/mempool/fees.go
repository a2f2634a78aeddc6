package mempool

import (
	"context"
	"fmt"

	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// FeeRateSource turns the recommended fees of the API into a fee table.
type FeeRateSource struct {
	client *Client
}

// A compile-time assertion that FeeRateSource satisfies feetable.RateSource.
var _ feetable.RateSource = (*FeeRateSource)(nil)

// NewFeeRateSource creates a fee rate source backed by client.
func NewFeeRateSource(client *Client) *FeeRateSource {
	return &FeeRateSource{client: client}
}

// FetchRates maps the economy, half hour and fastest estimates onto the
// economic, normal and priority categories. No rate drops below the
// minimum relay fee.
func (f *FeeRateSource) FetchRates(ctx context.Context) (feetable.Rates,
	error) {

	fees, err := f.client.GetFeeEstimates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee estimates: %w", err)
	}

	floor := satPerKVByte(fees.MinimumFee)
	rate := func(satPerVByte int64) chainfee.SatPerKVByte {
		r := satPerKVByte(satPerVByte)
		if r < floor {
			return floor
		}
		return r
	}

	return feetable.Rates{
		feetable.CategoryEconomic: rate(fees.EconomyFee),
		feetable.CategoryNormal:   rate(fees.HalfHourFee),
		feetable.CategoryPriority: rate(fees.FastestFee),
	}, nil
}

// satPerKVByte converts sat/vB to sat/kvB.
func satPerKVByte(satPerVByte int64) chainfee.SatPerKVByte {
	return chainfee.SatPerKVByte(satPerVByte * 1000)
}
