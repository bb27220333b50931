package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/darkpool-rfq/mm-agent/internal/audit"
	"github.com/darkpool-rfq/mm-agent/internal/metrics"
	"github.com/darkpool-rfq/mm-agent/internal/oracle"
	"github.com/darkpool-rfq/mm-agent/internal/pricing"
	"github.com/darkpool-rfq/mm-agent/internal/protocol"
	"github.com/darkpool-rfq/mm-agent/internal/ratelimit"
	"github.com/darkpool-rfq/mm-agent/internal/signer"
	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testBase  = "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
	testQuote = "0x55d398326f99059fF775485246999027B3197955"
)

func testPair() types.TradingPair {
	return types.TradingPair{
		ChainID:      56,
		BaseToken:    testBase,
		QuoteToken:   testQuote,
		BidSpreadBps: 10,
		AskSpreadBps: 10,
		OrderAmount:  decimal.NewFromInt(1),
		MinOrderSize: decimal.NewFromFloat(0.01),
		MaxOrderSize: decimal.NewFromInt(100),
	}
}

// hubServer is a minimal stand-in for the MM hub: it upgrades one
// connection, hands the caller raw read/write access, and records the
// Authorization header it received.
type hubServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	connCh   chan *websocket.Conn
	authHdr  chan string
}

func newHubServer() *hubServer {
	h := &hubServer{
		connCh:  make(chan *websocket.Conn, 1),
		authHdr: make(chan string, 1),
	}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.authHdr <- r.Header.Get("Authorization")
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.connCh <- conn
	}))
	return h
}

func (h *hubServer) wsURL() string {
	return "ws" + strings.TrimPrefix(h.URL, "http")
}

func newTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := signer.New(crypto.FromECDSA(privKey))
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	return s
}

func newTestParams(t *testing.T, wsURL string) Params {
	t.Helper()
	pair := testPair()
	book := pricing.NewBook(56, testBase, []types.TradingPair{pair})
	feed := oracle.NewStaticOracle(testLogger(), []oracle.StaticPrice{
		{BaseToken: testBase, QuoteToken: testQuote, Price: decimal.NewFromInt(300)},
	})
	auditLog, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	return Params{
		WSURL:       wsURL,
		JWT:         "test-jwt",
		ChainID:     56,
		Manager:     common.HexToAddress("0x94020Af3571f253754e5566710A89666d90Df615"),
		Book:        book,
		Oracle:      feed,
		Signer:      newTestSigner(t),
		Pairs:       []types.TradingPair{pair},
		AuditLog:    auditLog,
		Metrics:     metrics.New(),
		QuoteLimit:  ratelimit.NewTokenBucket(100, 100),
		Logger:      testLogger(),
		DialTimeout: 2 * time.Second,
	}
}

func writeAuthSuccess(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	resp := protocol.AuthResponse{
		Type:      protocol.TypeAuthResponse,
		Success:   true,
		SessionID: "sess-1",
		Config: &protocol.ConfigPayload{
			DepthPushIntervalMs: 20,
			QuoteTimeoutMs:      5000,
			HeartbeatIntervalMs: 20,
		},
	}
	if err := conn.WriteJSON(resp); err != nil {
		t.Fatalf("write auth_response: %v", err)
	}
}

func TestRunAuthenticatesWithBearerHeader(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	var conn *websocket.Conn
	select {
	case conn = <-hub.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received connection")
	}
	defer conn.Close()

	select {
	case got := <-hub.authHdr:
		if got != "Bearer test-jwt" {
			t.Errorf("Authorization header = %q, want %q", got, "Bearer test-jwt")
		}
	case <-time.After(time.Second):
		t.Fatal("no Authorization header observed")
	}

	writeAuthSuccess(t, conn)

	// give the session a moment to reach LIVE
	time.Sleep(50 * time.Millisecond)
	if sess.State() != StateLive {
		t.Errorf("state = %v, want LIVE", sess.State())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error after clean cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", sess.State())
	}
}

func TestRunFailsOnAuthRejection(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr

	_ = conn.WriteJSON(protocol.AuthResponse{
		Type:         protocol.TypeAuthResponse,
		Success:      false,
		ErrorMessage: "bad token",
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to fail on auth rejection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after auth rejection")
	}
}

func TestHandleQuoteRequestSignsAndResponds(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr
	writeAuthSuccess(t, conn)

	req := protocol.QuoteRequestMsg{
		Type:      protocol.TypeQuoteRequest,
		QuoteID:   "q-1",
		ChainID:   56,
		TokenIn:   testBase,
		TokenOut:  testQuote,
		AmountIn:  "1000000000000000000",
		Recipient: "0xDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaD",
		Nonce:     "1",
		Deadline:  time.Now().Add(time.Minute).Unix(),
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write quote_request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		msgType, err := protocol.ParseType(data)
		if err != nil {
			t.Fatalf("parse type: %v", err)
		}
		if msgType == protocol.TypeDepthUpdate || msgType == protocol.TypeHeartbeat {
			continue
		}
		if msgType != protocol.TypeQuoteResponse {
			t.Fatalf("unexpected message type %q: %s", msgType, data)
		}
		var resp protocol.QuoteResponseMsg
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal quote_response: %v", err)
		}
		if resp.QuoteID != "q-1" {
			t.Errorf("quote_id = %q, want q-1", resp.QuoteID)
		}
		if resp.Order.Signature == "" || resp.Order.Signature == "0x" {
			t.Errorf("expected non-empty signature, got %q", resp.Order.Signature)
		}
		if resp.Order.AmountOut == "0" || resp.Order.AmountOut == "" {
			t.Errorf("expected non-zero amount_out, got %q", resp.Order.AmountOut)
		}
		break
	}

	cancel()
	<-done
}

func TestHandleQuoteRequestPastDeadlineRejectsImmediately(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr
	writeAuthSuccess(t, conn)

	req := protocol.QuoteRequestMsg{
		Type:      protocol.TypeQuoteRequest,
		QuoteID:   "q-2",
		ChainID:   56,
		TokenIn:   testBase,
		TokenOut:  testQuote,
		AmountIn:  "1000000000000000000",
		Recipient: "0xDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaD",
		Nonce:     "1",
		Deadline:  time.Now().Add(-time.Minute).Unix(),
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write quote_request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		msgType, err := protocol.ParseType(data)
		if err != nil {
			t.Fatalf("parse type: %v", err)
		}
		if msgType == protocol.TypeDepthUpdate || msgType == protocol.TypeHeartbeat {
			continue
		}
		if msgType != protocol.TypeQuoteReject {
			t.Fatalf("unexpected message type %q: %s", msgType, data)
		}
		var rej protocol.QuoteRejectMsg
		if err := json.Unmarshal(data, &rej); err != nil {
			t.Fatalf("unmarshal quote_reject: %v", err)
		}
		if rej.Reason != types.RejectInternalError {
			t.Errorf("reason = %v, want %v", rej.Reason, types.RejectInternalError)
		}
		break
	}

	cancel()
	<-done
}

func TestHandleQuoteRequestUnsupportedPairRejects(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr
	writeAuthSuccess(t, conn)

	req := protocol.QuoteRequestMsg{
		Type:      protocol.TypeQuoteRequest,
		QuoteID:   "q-3",
		ChainID:   56,
		TokenIn:   "0xUnknownToken000000000000000000000000000",
		TokenOut:  testQuote,
		AmountIn:  "1000000000000000000",
		Recipient: "0xDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaDDeaD",
		Nonce:     "1",
		Deadline:  time.Now().Add(time.Minute).Unix(),
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write quote_request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		msgType, err := protocol.ParseType(data)
		if err != nil {
			t.Fatalf("parse type: %v", err)
		}
		if msgType == protocol.TypeDepthUpdate || msgType == protocol.TypeHeartbeat {
			continue
		}
		if msgType != protocol.TypeQuoteReject {
			t.Fatalf("unexpected message type %q: %s", msgType, data)
		}
		var rej protocol.QuoteRejectMsg
		if err := json.Unmarshal(data, &rej); err != nil {
			t.Fatalf("unmarshal quote_reject: %v", err)
		}
		if rej.Reason != types.RejectUnsupportedPair {
			t.Errorf("reason = %v, want %v", rej.Reason, types.RejectUnsupportedPair)
		}
		break
	}

	cancel()
	<-done
}

func TestDepthPusherPublishesSnapshots(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr
	writeAuthSuccess(t, conn)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msgType, _ := protocol.ParseType(data)
		if msgType == protocol.TypeDepthUpdate {
			var msg protocol.DepthUpdateMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal depth_update: %v", err)
			}
			if msg.PairID != testPair().PairKey() {
				t.Errorf("pair_id = %q, want %q", msg.PairID, testPair().PairKey())
			}
			break
		}
	}

	cancel()
	<-done
}

func TestKeepaliveSendsHeartbeatPing(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()

	params := newTestParams(t, hub.wsURL())
	sess := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	conn := <-hub.connCh
	defer conn.Close()
	<-hub.authHdr
	writeAuthSuccess(t, conn)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msgType, _ := protocol.ParseType(data)
		if msgType == protocol.TypeHeartbeat {
			var msg protocol.HeartbeatMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal heartbeat: %v", err)
			}
			if !msg.Heartbeat.Ping {
				t.Errorf("expected ping=true heartbeat from keepalive, got %+v", msg.Heartbeat)
			}
			break
		}
	}

	cancel()
	<-done
}
