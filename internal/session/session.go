// Package session implements one connection's lifecycle against the MM
// hub: authenticated handshake, concurrent depth publishing, quote-request
// servicing, and heartbeat liveness, over a single websocket.Conn.
//
// The transport pattern — one *websocket.Conn, one mutex serializing all
// writes, goroutine-per-activity joined by a WaitGroup, context-driven
// teardown — is grounded on the teacher's WSFeed (connectAndRead, pingLoop,
// writeJSON/writeMessage).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/darkpool-rfq/mm-agent/internal/audit"
	"github.com/darkpool-rfq/mm-agent/internal/depth"
	"github.com/darkpool-rfq/mm-agent/internal/metrics"
	"github.com/darkpool-rfq/mm-agent/internal/oracle"
	"github.com/darkpool-rfq/mm-agent/internal/pricing"
	"github.com/darkpool-rfq/mm-agent/internal/protocol"
	"github.com/darkpool-rfq/mm-agent/internal/ratelimit"
	"github.com/darkpool-rfq/mm-agent/internal/signer"
	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

const writeTimeout = 10 * time.Second

// State is the session's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateLive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateLive:
		return "LIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Params bundles everything one Session needs to run, constructed fresh by
// the Supervisor for each connection attempt.
type Params struct {
	WSURL       string
	JWT         string
	ChainID     uint64
	Manager     common.Address
	Book        *pricing.Book
	Oracle      oracle.PriceOracle
	Signer      *signer.Signer
	Pairs       []types.TradingPair
	AuditLog    *audit.Log
	Metrics     *metrics.Counters
	QuoteLimit  *ratelimit.TokenBucket
	Logger      *slog.Logger
	DialTimeout time.Duration
}

// Session runs one authenticated websocket connection from CONNECTING
// through CLOSED. A Session is single-use: call Run once, then discard it.
type Session struct {
	params Params
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	state   State
	stateMu sync.RWMutex

	sessionConfig types.SessionConfig
	sequenceID    uint64 // touched only by the depthPusher goroutine
}

// New constructs a Session ready to Run.
func New(p Params) *Session {
	return &Session{
		params: p,
		logger: p.Logger.With(slog.String("component", "session")),
		state:  StateConnecting,
	}
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Run dials, authenticates, and serves the LIVE loop until ctx is
// cancelled or a fatal error occurs. It returns nil only on a clean,
// caller-requested shutdown (ctx cancellation observed before any fatal
// transport error).
func (s *Session) Run(ctx context.Context) error {
	dialCtx := ctx
	if s.params.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.params.DialTimeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.params.JWT)

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.params.WSURL, header)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	s.setState(StateAuthenticating)
	if err := s.authenticate(); err != nil {
		s.setState(StateClosing)
		return fmt.Errorf("session: authenticate: %w", err)
	}

	s.setState(StateLive)
	s.params.Metrics.SetLive(true)
	defer s.params.Metrics.SetLive(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errCh <- s.reader(runCtx)
	}()
	go func() {
		defer wg.Done()
		errCh <- s.depthPusher(runCtx)
	}()
	go func() {
		defer wg.Done()
		errCh <- s.keepalive(runCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = nil
	case runErr = <-errCh:
		cancel()
	}

	s.setState(StateClosing)
	cancel()
	conn.Close() // unblocks any in-flight ReadMessage
	wg.Wait()
	s.setState(StateClosed)

	return runErr
}

// authenticate reads the first inbound frame and requires it to be a
// successful auth_response, merging the hub's advertised intervals.
func (s *Session) authenticate() error {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read auth_response: %w", err)
	}

	msgType, err := protocol.ParseType(data)
	if err != nil {
		return fmt.Errorf("parse auth_response envelope: %w", err)
	}
	if msgType != protocol.TypeAuthResponse {
		return fmt.Errorf("expected auth_response, got %q", msgType)
	}

	var resp protocol.AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal auth_response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("hub rejected authentication: %s", resp.ErrorMessage)
	}

	cfg := types.SessionConfig{}
	if resp.Config != nil {
		cfg = types.SessionConfig{
			DepthPushIntervalMs: time.Duration(resp.Config.DepthPushIntervalMs) * time.Millisecond,
			QuoteTimeoutMs:      time.Duration(resp.Config.QuoteTimeoutMs) * time.Millisecond,
			HeartbeatIntervalMs: time.Duration(resp.Config.HeartbeatIntervalMs) * time.Millisecond,
		}
	}
	s.sessionConfig = cfg.WithDefaults()

	s.logger.Info("authenticated", slog.String("session_id", resp.SessionID))
	return nil
}

// reader is the blocking read loop: one frame in, one dispatch out.
func (s *Session) reader(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("session: read: %w", err)
		}

		s.dispatch(ctx, data)
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	msgType, err := protocol.ParseType(data)
	if err != nil {
		s.logger.Debug("ignoring malformed frame", slog.String("error", err.Error()))
		return
	}

	switch msgType {
	case protocol.TypeQuoteRequest:
		var msg protocol.QuoteRequestMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error("unmarshal quote_request", slog.String("error", err.Error()))
			return
		}
		s.handleQuoteRequest(msg.ToQuoteRequest())

	case protocol.TypeHeartbeat:
		var msg protocol.HeartbeatMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error("unmarshal heartbeat", slog.String("error", err.Error()))
			return
		}
		if msg.Heartbeat.Ping {
			pong := protocol.NewHeartbeatPong(time.Now().UnixMilli())
			if err := s.writeJSON(pong); err != nil {
				s.logger.Warn("send heartbeat pong failed", slog.String("error", err.Error()))
			}
		}

	case protocol.TypeError:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(data, &msg); err == nil {
			s.logger.Warn("hub reported error", slog.String("message", msg.Message))
		}

	default:
		s.logger.Debug("unknown frame type", slog.String("type", msgType))
	}
}

// handleQuoteRequest implements spec's exactly-one-response-per-quoteId
// rule: every path below ends in exactly one writeJSON of a
// quote_response or quote_reject.
func (s *Session) handleQuoteRequest(req types.QuoteRequest) {
	s.params.Metrics.IncQuotesReceived()

	// Deadline check happens before any signing work, so we reject fast
	// instead of racing the clock through a full sign.
	if req.Deadline <= time.Now().Unix() {
		s.reject(req, types.RejectInternalError, "deadline already past on receipt")
		return
	}

	if s.params.QuoteLimit != nil && !s.params.QuoteLimit.Allow() {
		s.reject(req, types.RejectRateLimited, "quote request rate exceeded")
		return
	}

	pair, ok := s.params.Book.Find(req.TokenIn, req.TokenOut)
	if !ok {
		s.reject(req, types.RejectUnsupportedPair, "pair not supported")
		return
	}

	quote, err := pricing.Quote(s.params.Book, s.params.Oracle, pair, req)
	if err != nil {
		if qerr, ok := err.(*pricing.QuoteError); ok {
			s.reject(req, qerr.Reason, qerr.Message)
			return
		}
		s.reject(req, types.RejectInternalError, err.Error())
		return
	}

	sig, err := s.params.Signer.Sign(s.params.ChainID, s.params.Manager, *quote)
	if err != nil {
		s.reject(req, types.RejectInternalError, fmt.Sprintf("signing failed: %v", err))
		return
	}

	order := protocol.SignedOrderPayload{
		Signer:      s.params.Signer.Address().Hex(),
		Manager:     s.params.Manager.Hex(),
		From:        quote.From,
		To:          quote.To,
		InputToken:  quote.InputToken,
		OutputToken: quote.OutputToken,
		AmountIn:    quote.AmountIn.String(),
		AmountOut:   quote.AmountOut.String(),
		Deadline:    req.Deadline,
		Nonce:       quote.Nonce.String(),
		ExtraData:   "0x",
		Signature:   "0x" + fmt.Sprintf("%x", sig),
	}

	if err := s.writeJSON(protocol.NewQuoteResponse(req.QuoteID, order)); err != nil {
		s.logger.Error("send quote_response failed", slog.String("error", err.Error()))
		return
	}
	s.params.Metrics.IncQuotesResponded()

	if s.params.AuditLog != nil {
		_ = s.params.AuditLog.Record(audit.Entry{
			QuoteID:   req.QuoteID,
			ChainID:   req.ChainID,
			TokenIn:   req.TokenIn,
			TokenOut:  req.TokenOut,
			AmountIn:  req.AmountIn,
			AmountOut: quote.AmountOut.String(),
			Accepted:  true,
			Signature: order.Signature,
		})
	}
}

func (s *Session) reject(req types.QuoteRequest, reason types.RejectReason, message string) {
	s.params.Metrics.IncQuotesRejected(reason)
	if err := s.writeJSON(protocol.NewQuoteReject(req.QuoteID, reason, message)); err != nil {
		s.logger.Error("send quote_reject failed", slog.String("error", err.Error()))
	}
	if s.params.AuditLog != nil {
		_ = s.params.AuditLog.Record(audit.Entry{
			QuoteID:      req.QuoteID,
			ChainID:      req.ChainID,
			TokenIn:      req.TokenIn,
			TokenOut:     req.TokenOut,
			AmountIn:     req.AmountIn,
			Accepted:     false,
			RejectReason: string(reason),
		})
	}
}

// depthPusher publishes a snapshot per pair, in registration order, every
// depthPushIntervalMs. sequenceID is local to this goroutine.
func (s *Session) depthPusher(ctx context.Context) error {
	ticker := time.NewTicker(s.sessionConfig.DepthPushIntervalMs)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, pair := range s.params.Pairs {
				snap, err := depth.Build(s.params.Oracle, pair, s.sequenceID, time.Now().UnixMilli())
				if err != nil {
					s.logger.Warn("depth build failed", slog.String("pair", pair.PairKey()), slog.String("error", err.Error()))
					continue
				}
				if err := s.writeJSON(protocol.NewDepthUpdate(snap)); err != nil {
					s.logger.Warn("depth push failed", slog.String("error", err.Error()))
					continue
				}
				s.sequenceID++
				s.params.Metrics.IncDepthPushes()
			}
		}
	}
}

// keepalive sends heartbeat.ping on a fixed interval.
func (s *Session) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(s.sessionConfig.HeartbeatIntervalMs)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.writeJSON(protocol.NewHeartbeatPing()); err != nil {
				s.logger.Warn("heartbeat ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// writeJSON serializes v and sends it over the single shared connection,
// taking writeMu for the duration of the write only — pricing and signing
// happen entirely outside this lock.
func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
