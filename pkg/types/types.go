// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the agent — trading pairs,
// quote requests, signed orders, depth snapshots, and the wire envelope
// exchanged with the MM hub. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Chain constants
// ————————————————————————————————————————————————————————————————————————

// ChainConstants holds the per-chain addresses the signer and pricing
// engine need: the RFQ manager contract (EIP-712 verifyingContract) and
// the wrapped-native token that a zero address is normalized to.
type ChainConstants struct {
	RFQManager    string
	WrappedNative string
}

// ZeroAddress is the sentinel the protocol uses for "native token" in a
// QuoteRequest; it is always normalized to the chain's wrapped-native token.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// chainTable is the chain ID -> (RFQ manager, wrapped native) lookup from
// the protocol's published deployment addresses.
var chainTable = map[uint64]ChainConstants{
	56: { // BSC
		RFQManager:    "0x94020Af3571f253754e5566710A89666d90Df615",
		WrappedNative: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
	},
	8453: { // Base
		RFQManager:    "0x7648CE928efa92372E2bb34086421a8a1702bD36",
		WrappedNative: "0x4200000000000000000000000000000000000006",
	},
}

// ChainConstantsFor returns the manager/wrapped-native pair for a chain ID.
// ok is false for an unconfigured chain.
func ChainConstantsFor(chainID uint64) (ChainConstants, bool) {
	c, ok := chainTable[chainID]
	return c, ok
}

// ————————————————————————————————————————————————————————————————————————
// Trading pairs
// ————————————————————————————————————————————————————————————————————————

// DepthLevel is one configured depth rung: a spread (in bps) and a
// quantity, used when a TradingPair advertises more than one price level.
type DepthLevel struct {
	SpreadBps uint16          `mapstructure:"spread_bps"`
	Amount    decimal.Decimal `mapstructure:"amount"`
}

// TradingPair is a configured offering. Immutable after registration; the
// session keys its pair registry by the ordered string "base-quote".
type TradingPair struct {
	ChainID      uint64
	BaseToken    string
	QuoteToken   string
	BidSpreadBps uint16
	AskSpreadBps uint16
	OrderAmount  decimal.Decimal
	MinOrderSize decimal.Decimal
	MaxOrderSize decimal.Decimal
	Levels       []DepthLevel // empty = single synthetic level from OrderAmount
}

// PairKey returns the "base-quote" registry key for this pair.
func (p TradingPair) PairKey() string {
	return p.BaseToken + "-" + p.QuoteToken
}

// ————————————————————————————————————————————————————————————————————————
// Quote requests and signed orders
// ————————————————————————————————————————————————————————————————————————

// QuoteRequest is an inbound per-trade ask. Immutable; a request is
// single-shot — the session emits exactly one quote_response or
// quote_reject per QuoteID.
type QuoteRequest struct {
	QuoteID     string `json:"quote_id"`
	ChainID     uint64 `json:"chain_id"`
	MMID        string `json:"mm_id"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"` // u256 as decimal string
	Recipient   string `json:"recipient"`
	Nonce       string `json:"nonce"` // u256 as decimal string
	Deadline    int64  `json:"deadline"` // unix seconds
	SlippageBps uint16 `json:"slippage_bps"`
}

// MMQuote is the signed order object produced for a successful quote.
// Field order matches the EIP-712 struct hash field order exactly.
type MMQuote struct {
	Manager       string
	From          string
	To            string
	InputToken    string
	OutputToken   string
	AmountIn      *big.Int
	AmountOut     *big.Int
	Deadline      uint64
	Nonce         *big.Int
	ExtraDataHash [32]byte
}

// ExtraDataHashEmptyHex is keccak256 of empty bytes, hardcoded per the
// protocol (no non-empty extra_data is supported by this agent).
const ExtraDataHashEmptyHex = "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"

// ExtraDataHashEmpty returns ExtraDataHashEmptyHex decoded to 32 bytes.
func ExtraDataHashEmpty() [32]byte {
	var out [32]byte
	b, _ := hex.DecodeString(strings.TrimPrefix(ExtraDataHashEmptyHex, "0x"))
	copy(out[:], b)
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Rejection / status enums
// ————————————————————————————————————————————————————————————————————————

// RejectReason enumerates why a quote_request was refused.
type RejectReason string

const (
	RejectInsufficientLiquidity RejectReason = "REJECT_REASON_INSUFFICIENT_LIQUIDITY"
	RejectPriceMoved            RejectReason = "REJECT_REASON_PRICE_MOVED"
	RejectUnsupportedPair       RejectReason = "REJECT_REASON_UNSUPPORTED_PAIR"
	RejectRateLimited           RejectReason = "REJECT_REASON_RATE_LIMITED"
	RejectInternalError         RejectReason = "REJECT_REASON_INTERNAL_ERROR"
)

// QuoteStatus is the status field of a successful quote_response.
type QuoteStatus string

const (
	QuoteStatusSuccess QuoteStatus = "QUOTE_STATUS_SUCCESS"
)

// ————————————————————————————————————————————————————————————————————————
// Depth snapshots
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price is a decimal string,
// Amount is an integer string in 18-decimal base-units.
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// DepthSnapshot is an outbound order-book rendering for one pair.
// SequenceID is a monotone counter per session, incremented for every
// published snapshot across all pairs (not reset per-pair).
type DepthSnapshot struct {
	ChainID     uint64       `json:"chain_id"`
	PairID      string       `json:"pair_id"`
	TokenA      string       `json:"token_a"`
	TokenB      string       `json:"token_b"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	SequenceID  uint64       `json:"sequence_id"`
	TimestampMs int64        `json:"timestamp_ms"`
}

// ————————————————————————————————————————————————————————————————————————
// Session config (negotiated at auth)
// ————————————————————————————————————————————————————————————————————————

// SessionConfig carries the hub's advertised intervals, received in the
// auth_response. Zero values fall back to the documented defaults.
type SessionConfig struct {
	DepthPushIntervalMs time.Duration
	QuoteTimeoutMs      time.Duration
	HeartbeatIntervalMs time.Duration
}

const (
	DefaultDepthPushIntervalMs = 1000
	DefaultQuoteTimeoutMs      = 5000
	DefaultHeartbeatIntervalMs = 30000
)

// WithDefaults returns a copy with any zero duration replaced by the
// documented default.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.DepthPushIntervalMs == 0 {
		c.DepthPushIntervalMs = DefaultDepthPushIntervalMs * time.Millisecond
	}
	if c.QuoteTimeoutMs == 0 {
		c.QuoteTimeoutMs = DefaultQuoteTimeoutMs * time.Millisecond
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs * time.Millisecond
	}
	return c
}

// ————————————————————————————————————————————————————————————————————————
// Metrics snapshot
// ————————————————————————————————————————————————————————————————————————

// Metrics is a read-only view of the supervisor/session counters.
type Metrics struct {
	QuotesReceived  int64 `json:"quotes_received"`
	QuotesResponded int64 `json:"quotes_responded"`
	QuotesRejected  int64 `json:"quotes_rejected"`
	DepthPushes     int64 `json:"depth_pushes"`
	Reconnections   int64 `json:"reconnections"`
}
