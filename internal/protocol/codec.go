// Package protocol implements the JSON wire envelope exchanged with the MM
// hub: a single object with a "type" discriminator, tag-dispatched to a
// concrete message. Unknown types and malformed frames are logged and
// ignored — they never terminate the session (spec §4.4, §7).
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

// Message type discriminators, as sent on the wire.
const (
	TypeAuth          = "auth"
	TypeAuthResponse  = "auth_response"
	TypeDepthUpdate   = "depth_update"
	TypeQuoteRequest  = "quote_request"
	TypeQuoteResponse = "quote_response"
	TypeQuoteReject   = "quote_reject"
	TypeHeartbeat     = "heartbeat"
	TypeError         = "error"
)

// Envelope is the generic wire shape; Type is parsed first so the frame can
// be routed to a concrete struct without knowing its full schema up front.
type Envelope struct {
	Type string `json:"type"`
}

// AuthResponse is the first-and-only expected inbound frame during the
// AUTHENTICATING state.
type AuthResponse struct {
	Type         string        `json:"type"`
	Success      bool          `json:"success"`
	SessionID    string        `json:"session_id,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Config       *ConfigPayload `json:"config,omitempty"`
}

// ConfigPayload is the hub-advertised interval configuration, merged with
// defaults by types.SessionConfig.WithDefaults.
type ConfigPayload struct {
	DepthPushIntervalMs int64 `json:"depth_push_interval_ms"`
	QuoteTimeoutMs      int64 `json:"quote_timeout_ms"`
	HeartbeatIntervalMs int64 `json:"heartbeat_interval_ms"`
}

// QuoteRequestMsg is the inbound per-trade ask, type "quote_request".
type QuoteRequestMsg struct {
	Type        string `json:"type"`
	QuoteID     string `json:"quote_id"`
	ChainID     uint64 `json:"chain_id"`
	MMID        string `json:"mm_id"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	Recipient   string `json:"recipient"`
	Nonce       string `json:"nonce"`
	Deadline    int64  `json:"deadline"`
	SlippageBps uint16 `json:"slippage_bps"`
}

// ToQuoteRequest converts the wire message into the domain type.
func (m QuoteRequestMsg) ToQuoteRequest() types.QuoteRequest {
	return types.QuoteRequest{
		QuoteID:     m.QuoteID,
		ChainID:     m.ChainID,
		MMID:        m.MMID,
		TokenIn:     m.TokenIn,
		TokenOut:    m.TokenOut,
		AmountIn:    m.AmountIn,
		Recipient:   m.Recipient,
		Nonce:       m.Nonce,
		Deadline:    m.Deadline,
		SlippageBps: m.SlippageBps,
	}
}

// SignedOrderPayload is the "order" object inside a quote_response.
type SignedOrderPayload struct {
	Signer      string `json:"signer"`
	Manager     string `json:"manager"`
	From        string `json:"from"`
	To          string `json:"to"`
	InputToken  string `json:"input_token"`
	OutputToken string `json:"output_token"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Deadline    int64  `json:"deadline"`
	Nonce       string `json:"nonce"`
	ExtraData   string `json:"extra_data"`
	Signature   string `json:"signature"`
}

// QuoteResponseMsg is the outbound success reply to a quote_request.
type QuoteResponseMsg struct {
	Type    string              `json:"type"`
	QuoteID string              `json:"quote_id"`
	Status  types.QuoteStatus   `json:"status"`
	Order   SignedOrderPayload  `json:"order"`
}

// NewQuoteResponse builds the wire frame for a successful quote.
func NewQuoteResponse(quoteID string, order SignedOrderPayload) QuoteResponseMsg {
	return QuoteResponseMsg{
		Type:    TypeQuoteResponse,
		QuoteID: quoteID,
		Status:  types.QuoteStatusSuccess,
		Order:   order,
	}
}

// QuoteRejectMsg is the outbound rejection reply to a quote_request.
type QuoteRejectMsg struct {
	Type    string             `json:"type"`
	QuoteID string             `json:"quote_id"`
	Reason  types.RejectReason `json:"reason"`
	Message string             `json:"message"`
}

// NewQuoteReject builds the wire frame for a rejected quote.
func NewQuoteReject(quoteID string, reason types.RejectReason, message string) QuoteRejectMsg {
	return QuoteRejectMsg{
		Type:    TypeQuoteReject,
		QuoteID: quoteID,
		Reason:  reason,
		Message: message,
	}
}

// DepthUpdateMsg is the outbound depth snapshot for one pair.
type DepthUpdateMsg struct {
	Type        string              `json:"type"`
	ChainID     uint64              `json:"chain_id"`
	PairID      string              `json:"pair_id"`
	TokenA      string              `json:"token_a"`
	TokenB      string              `json:"token_b"`
	Bids        []types.PriceLevel  `json:"bids"`
	Asks        []types.PriceLevel  `json:"asks"`
	SequenceID  uint64              `json:"sequence_id"`
	TimestampMs int64               `json:"timestamp_ms"`
}

// NewDepthUpdate wraps a types.DepthSnapshot as a wire frame.
func NewDepthUpdate(snap types.DepthSnapshot) DepthUpdateMsg {
	return DepthUpdateMsg{
		Type:        TypeDepthUpdate,
		ChainID:     snap.ChainID,
		PairID:      snap.PairID,
		TokenA:      snap.TokenA,
		TokenB:      snap.TokenB,
		Bids:        snap.Bids,
		Asks:        snap.Asks,
		SequenceID:  snap.SequenceID,
		TimestampMs: snap.TimestampMs,
	}
}

// HeartbeatPayload is the {ping|pong} body of a heartbeat frame.
type HeartbeatPayload struct {
	Ping bool `json:"ping,omitempty"`
	Pong bool `json:"pong,omitempty"`
}

// HeartbeatMsg is sent both directions; Ping is used by the keepalive
// activity, Pong is the reader's echo.
type HeartbeatMsg struct {
	Type      string           `json:"type"`
	Heartbeat HeartbeatPayload `json:"heartbeat"`
	Timestamp int64            `json:"timestamp,omitempty"`
}

// NewHeartbeatPing builds an outbound keepalive ping.
func NewHeartbeatPing() HeartbeatMsg {
	return HeartbeatMsg{Type: TypeHeartbeat, Heartbeat: HeartbeatPayload{Ping: true}}
}

// NewHeartbeatPong builds an outbound heartbeat echo with the given
// wall-clock timestamp in milliseconds.
func NewHeartbeatPong(nowMs int64) HeartbeatMsg {
	return HeartbeatMsg{Type: TypeHeartbeat, Heartbeat: HeartbeatPayload{Pong: true}, Timestamp: nowMs}
}

// ErrorMsg is an inbound server-side error notification; it is logged and
// does not terminate the session.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseType peeks at the "type" discriminator of a raw frame without
// committing to a concrete schema.
func ParseType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	return env.Type, nil
}
