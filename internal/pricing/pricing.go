// Package pricing implements the quote calculation engine: pair lookup
// (with zero-address normalization and reverse-pair matching), order-size
// bounds checking, and bid/ask spread application against an oracle mid
// price. All arithmetic happens in decimal.Decimal and is only truncated
// to *big.Int base units at the very end.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/darkpool-rfq/mm-agent/internal/oracle"
	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

// base18 is the base-unit scale (1e18) every configured decimal amount is
// multiplied by before comparison with on-wire integer amounts.
var base18 = decimal.New(1, 18)

// Book holds the configured trading pairs, keyed by "base-quote", and
// resolves zero-address/reverse-pair lookups for incoming quote requests.
type Book struct {
	chainID uint64
	wrapped string
	pairs   map[string]types.TradingPair
}

// NewBook builds a pair registry for one chain.
func NewBook(chainID uint64, wrappedNative string, pairs []types.TradingPair) *Book {
	indexed := make(map[string]types.TradingPair, len(pairs))
	for _, p := range pairs {
		indexed[p.PairKey()] = p
	}
	return &Book{chainID: chainID, wrapped: wrappedNative, pairs: indexed}
}

// normalize maps the protocol's zero-address sentinel to the chain's
// wrapped-native token.
func (b *Book) normalize(token string) string {
	if token == types.ZeroAddress {
		return b.wrapped
	}
	return token
}

// Find resolves a trading pair for (tokenIn, tokenOut), trying both the
// requested direction and its reverse, after zero-address normalization.
func (b *Book) Find(tokenIn, tokenOut string) (types.TradingPair, bool) {
	in := b.normalize(tokenIn)
	out := b.normalize(tokenOut)

	if p, ok := b.pairs[in+"-"+out]; ok {
		return p, true
	}
	if p, ok := b.pairs[out+"-"+in]; ok {
		return p, true
	}
	return types.TradingPair{}, false
}

// QuoteError carries the reject reason to surface for a failed quote.
type QuoteError struct {
	Reason  types.RejectReason
	Message string
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func reject(reason types.RejectReason, format string, args ...interface{}) error {
	return &QuoteError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Quote computes the output base-unit amount for a quote request against
// a resolved pair, given the oracle's mid price for that pair.
//
// Spread selection: when the (normalized) input token matches the pair's
// base token, the request is selling base and uses BidSpreadBps; any
// other input token is buying base and uses AskSpreadBps. This mapping
// is preserved verbatim from the reference connector and must not be
// "corrected" independently of it.
func Quote(book *Book, feed oracle.PriceOracle, pair types.TradingPair, req types.QuoteRequest) (*types.MMQuote, error) {
	parsedAmountIn, parseErr := decimal.NewFromString(req.AmountIn)
	if parseErr != nil {
		return nil, reject(types.RejectInternalError, "invalid amount_in: %v", parseErr)
	}

	minUnits := pair.MinOrderSize.Mul(base18)
	maxUnits := pair.MaxOrderSize.Mul(base18)
	if parsedAmountIn.LessThan(minUnits) || parsedAmountIn.GreaterThan(maxUnits) {
		return nil, reject(types.RejectInsufficientLiquidity, "amount_in %s outside [%s, %s]", parsedAmountIn, minUnits, maxUnits)
	}

	normalizedIn := book.normalize(req.TokenIn)
	normalizedOut := book.normalize(req.TokenOut)

	// The oracle is queried in the request's own direction (tokenIn ->
	// tokenOut), not the pair's registered base/quote order — the oracle's
	// own reverse-pair fallback is what makes amountOut = amountIn *
	// midPrice * spreadFactor symmetric for both trade directions.
	midPrice, err := feed.MidPrice(normalizedIn, normalizedOut)
	if err != nil {
		return nil, reject(types.RejectInternalError, "oracle: %v", err)
	}

	var spreadBps uint16
	if strings.EqualFold(normalizedIn, pair.BaseToken) {
		spreadBps = pair.BidSpreadBps
	} else {
		spreadBps = pair.AskSpreadBps
	}

	spreadFactor := decimal.NewFromInt(1).Sub(decimal.NewFromInt32(int32(spreadBps)).Div(decimal.NewFromInt(10000)))
	amountOutDecimal := parsedAmountIn.Mul(midPrice).Mul(spreadFactor)
	amountOut := amountOutDecimal.BigInt()

	amountInInt := parsedAmountIn.BigInt()
	nonce, nonceErr := decimal.NewFromString(req.Nonce)
	if nonceErr != nil {
		return nil, reject(types.RejectInternalError, "invalid nonce: %v", nonceErr)
	}

	return &types.MMQuote{
		From:          req.Recipient,
		To:            req.Recipient,
		InputToken:    req.TokenIn,
		OutputToken:   req.TokenOut,
		AmountIn:      amountInInt,
		AmountOut:     amountOut,
		Deadline:      uint64(req.Deadline),
		Nonce:         nonce.BigInt(),
		ExtraDataHash: types.ExtraDataHashEmpty(),
	}, nil
}

