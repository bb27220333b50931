// Package oracle supplies mid prices to the pricing engine. The protocol
// treats price discovery as an external collaborator — this package only
// ships the static, config-driven feed used for development and for pairs
// that have no live feed wired up (spec's pricing engine is feed-agnostic).
package oracle

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// PriceOracle returns the mid price of baseToken denominated in quoteToken.
type PriceOracle interface {
	MidPrice(baseToken, quoteToken string) (decimal.Decimal, error)
}

// StaticOracle serves prices from a fixed table, with a reverse-pair
// fallback (1/price) when only the inverse pair was configured, and a
// logged 1.0 fallback when neither direction is known. This mirrors a
// development price feed, not a production market-data source.
type StaticOracle struct {
	logger *slog.Logger
	prices map[string]decimal.Decimal
}

// StaticPrice configures one directional mid price.
type StaticPrice struct {
	BaseToken  string
	QuoteToken string
	Price      decimal.Decimal
}

// NewStaticOracle builds an oracle from a list of configured prices.
func NewStaticOracle(logger *slog.Logger, prices []StaticPrice) *StaticOracle {
	table := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		table[pairKey(p.BaseToken, p.QuoteToken)] = p.Price
	}
	return &StaticOracle{logger: logger, prices: table}
}

func pairKey(base, quote string) string {
	return base + "-" + quote
}

// MidPrice looks up baseToken/quoteToken directly, then the inverse pair,
// then falls back to 1.0 with a warning log.
func (o *StaticOracle) MidPrice(baseToken, quoteToken string) (decimal.Decimal, error) {
	if price, ok := o.prices[pairKey(baseToken, quoteToken)]; ok {
		return price, nil
	}

	if inverse, ok := o.prices[pairKey(quoteToken, baseToken)]; ok {
		if inverse.IsZero() {
			return decimal.Zero, fmt.Errorf("oracle: inverse price for %s-%s is zero", quoteToken, baseToken)
		}
		return decimal.NewFromInt(1).Div(inverse), nil
	}

	o.logger.Warn("no configured price, using fallback",
		slog.String("base_token", baseToken),
		slog.String("quote_token", quoteToken),
		slog.String("fallback", "1.0"),
	)
	return decimal.NewFromInt(1), nil
}

// SetPrice installs or overwrites a directional price, mainly for tests.
func (o *StaticOracle) SetPrice(baseToken, quoteToken string, price decimal.Decimal) {
	o.prices[pairKey(baseToken, quoteToken)] = price
}
