package asset

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// FixedRateOracle is a RateOracle backed by a static price table. Single
// asset pools stub it to 1:1. Tests reprice assets mid-scenario to model
// oracle manipulation.
type FixedRateOracle struct {
	prices map[string]decimal.Decimal
}

// NewFixedRateOracle creates an oracle with no prices configured. Assets
// without an explicit price quote at 1.
func NewFixedRateOracle() *FixedRateOracle {
	return &FixedRateOracle{prices: make(map[string]decimal.Decimal)}
}

// SetPrice configures (or re-configures) the price of an asset in the
// oracle's reference unit.
func (o *FixedRateOracle) SetPrice(asset string, price decimal.Decimal) {
	o.prices[asset] = price
}

func (o *FixedRateOracle) PriceOf(_ context.Context, asset string) (decimal.Decimal, error) {
	if price, ok := o.prices[asset]; ok {
		return price, nil
	}
	return decimal.NewFromInt(1), nil
}

func (o *FixedRateOracle) ExchangeRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	basePrice, err := o.PriceOf(ctx, base)
	if err != nil {
		return decimal.Decimal{}, err
	}
	quotePrice, err := o.PriceOf(ctx, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if quotePrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s has non-positive price", ErrUnknownAsset, quote)
	}
	return basePrice.Div(quotePrice), nil
}
