// Package depth builds outbound order-book snapshots from a trading
// pair's configured levels and the oracle's mid price, for periodic
// publication by the session engine.
package depth

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/darkpool-rfq/mm-agent/internal/oracle"
	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

var base18 = decimal.New(1, 18)

// Build renders a DepthSnapshot for one pair at the given sequence ID and
// wall-clock timestamp. When the pair configures no explicit Levels, a
// single synthetic level is derived from BidSpreadBps/AskSpreadBps and
// OrderAmount.
func Build(feed oracle.PriceOracle, pair types.TradingPair, sequenceID uint64, timestampMs int64) (types.DepthSnapshot, error) {
	midPrice, err := feed.MidPrice(pair.BaseToken, pair.QuoteToken)
	if err != nil {
		return types.DepthSnapshot{}, err
	}

	levels := pair.Levels
	if len(levels) == 0 {
		levels = []types.DepthLevel{
			{SpreadBps: pair.BidSpreadBps, Amount: pair.OrderAmount},
		}
	}

	bids := make([]types.PriceLevel, 0, len(levels))
	asks := make([]types.PriceLevel, 0, len(levels))

	for _, level := range levels {
		bidSpread := level.SpreadBps
		askSpread := level.SpreadBps
		if len(pair.Levels) == 0 {
			// Synthetic single level: reuse the pair's own distinct
			// bid/ask spreads instead of collapsing to one.
			bidSpread = pair.BidSpreadBps
			askSpread = pair.AskSpreadBps
		}

		bidFactor := decimal.NewFromInt(1).Sub(decimal.NewFromInt32(int32(bidSpread)).Div(decimal.NewFromInt(10000)))
		askFactor := decimal.NewFromInt(1).Add(decimal.NewFromInt32(int32(askSpread)).Div(decimal.NewFromInt(10000)))

		bidPrice := midPrice.Mul(bidFactor)
		askPrice := midPrice.Mul(askFactor)
		amountUnits := level.Amount.Mul(base18).BigInt().String()

		bids = append(bids, types.PriceLevel{Price: bidPrice.String(), Amount: amountUnits})
		asks = append(asks, types.PriceLevel{Price: askPrice.String(), Amount: amountUnits})
	}

	sort.Slice(bids, func(i, j int) bool {
		pi, _ := decimal.NewFromString(bids[i].Price)
		pj, _ := decimal.NewFromString(bids[j].Price)
		return pi.GreaterThan(pj)
	})
	sort.Slice(asks, func(i, j int) bool {
		pi, _ := decimal.NewFromString(asks[i].Price)
		pj, _ := decimal.NewFromString(asks[j].Price)
		return pi.LessThan(pj)
	})

	return types.DepthSnapshot{
		ChainID:     pair.ChainID,
		PairID:      pair.PairKey(),
		TokenA:      pair.BaseToken,
		TokenB:      pair.QuoteToken,
		Bids:        bids,
		Asks:        asks,
		SequenceID:  sequenceID,
		TimestampMs: timestampMs,
	}, nil
}
