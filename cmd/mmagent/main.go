// Command mmagent runs a market-maker agent that answers quote_request
// frames from a single MM hub over one authenticated websocket, signing
// accepted quotes with an EIP-712 MMQuote signature.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires every
//	                       component, waits for SIGINT/SIGTERM
//	internal/config     — YAML config with MM_* env overrides
//	internal/signer     — memguard-sealed EIP-712 signing key
//	internal/oracle     — mid-price feed for the pricing engine
//	internal/pricing    — pair resolution + spread-adjusted quoting
//	internal/depth      — order-book snapshot rendering
//	internal/protocol   — wire envelope (quote_request/response/...)
//	internal/session    — one authenticated websocket connection
//	internal/supervisor — reconnect loop with exponential backoff
//	internal/ratelimit  — per-session quote-request rate limiting
//	internal/audit      — append-only JSON-lines compliance log
//	internal/metrics    — Prometheus + in-process counters
//	internal/statusapi  — /health, /metrics, /api/status
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/darkpool-rfq/mm-agent/internal/audit"
	"github.com/darkpool-rfq/mm-agent/internal/config"
	"github.com/darkpool-rfq/mm-agent/internal/metrics"
	"github.com/darkpool-rfq/mm-agent/internal/oracle"
	"github.com/darkpool-rfq/mm-agent/internal/pricing"
	"github.com/darkpool-rfq/mm-agent/internal/ratelimit"
	"github.com/darkpool-rfq/mm-agent/internal/session"
	"github.com/darkpool-rfq/mm-agent/internal/signer"
	"github.com/darkpool-rfq/mm-agent/internal/statusapi"
	"github.com/darkpool-rfq/mm-agent/internal/supervisor"
	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

const (
	quoteRateCapacity = 20
	quoteRatePerSec   = 10
	dialTimeout       = 10 * time.Second
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	chainConsts, ok := types.ChainConstantsFor(cfg.ChainID)
	if !ok {
		logger.Error("unsupported chain_id, no RFQ manager configured", "chain_id", cfg.ChainID)
		os.Exit(1)
	}
	managerAddr := stringToAddress(chainConsts.RFQManager)

	keyBytes, err := decodePrivateKey(cfg.Wallet.PrivateKey)
	if err != nil {
		logger.Error("failed to parse wallet.private_key", "error", err)
		os.Exit(1)
	}
	sgn, err := signer.New(keyBytes)
	if err != nil {
		logger.Error("failed to initialize signer", "error", err)
		os.Exit(1)
	}
	defer sgn.Destroy()

	pairs, err := buildPairs(cfg.Pairs)
	if err != nil {
		logger.Error("invalid pairs configuration", "error", err)
		os.Exit(1)
	}
	book := pricing.NewBook(cfg.ChainID, chainConsts.WrappedNative, pairs)

	feed, err := buildOracle(cfg.Oracle, logger)
	if err != nil {
		logger.Error("invalid oracle configuration", "error", err)
		os.Exit(1)
	}

	auditDir := cfg.Audit.DataDir
	if auditDir == "" {
		auditDir = "data/audit"
	}
	auditLog, err := audit.Open(auditDir)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}

	counters := metrics.New()

	factory := func() *session.Session {
		return session.New(session.Params{
			WSURL:       cfg.Hub.WSURL,
			JWT:         cfg.Hub.JWT,
			ChainID:     cfg.ChainID,
			Manager:     managerAddr,
			Book:        book,
			Oracle:      feed,
			Signer:      sgn,
			Pairs:       pairs,
			AuditLog:    auditLog,
			Metrics:     counters,
			QuoteLimit:  ratelimit.NewTokenBucket(quoteRateCapacity, quoteRatePerSec),
			Logger:      logger,
			DialTimeout: dialTimeout,
		})
	}

	sv := supervisor.New(factory, counters, logger)

	var statusSrv *statusapi.Server
	if cfg.Status.Enabled {
		statusSrv = statusapi.NewServer(cfg.Status.Port, counters, logger)
		go func() {
			if err := statusSrv.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("supervisor exited unexpectedly", "error", err)
		}
	}()

	logger.Info("market maker agent started",
		"chain_id", cfg.ChainID,
		"pairs", len(pairs),
		"hub", cfg.Hub.WSURL,
		"signer", sgn.Address().Hex(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	if statusSrv != nil {
		if err := statusSrv.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}
}

func buildPairs(cfgs []config.PairConfig) ([]types.TradingPair, error) {
	pairs := make([]types.TradingPair, 0, len(cfgs))
	for i, p := range cfgs {
		orderAmount, err := decimal.NewFromString(p.OrderAmount)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].order_amount: %w", i, err)
		}
		minSize, err := decimal.NewFromString(p.MinOrderSize)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].min_order_size: %w", i, err)
		}
		maxSize, err := decimal.NewFromString(p.MaxOrderSize)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].max_order_size: %w", i, err)
		}

		levels := make([]types.DepthLevel, 0, len(p.Levels))
		for j, lvl := range p.Levels {
			amt, err := decimal.NewFromString(lvl.Amount)
			if err != nil {
				return nil, fmt.Errorf("pairs[%d].levels[%d].amount: %w", i, j, err)
			}
			levels = append(levels, types.DepthLevel{SpreadBps: lvl.SpreadBps, Amount: amt})
		}

		pairs = append(pairs, types.TradingPair{
			BaseToken:    p.BaseToken,
			QuoteToken:   p.QuoteToken,
			BidSpreadBps: p.BidSpreadBps,
			AskSpreadBps: p.AskSpreadBps,
			OrderAmount:  orderAmount,
			MinOrderSize: minSize,
			MaxOrderSize: maxSize,
			Levels:       levels,
		})
	}
	return pairs, nil
}

func buildOracle(cfg config.OracleConfig, logger *slog.Logger) (oracle.PriceOracle, error) {
	prices := make([]oracle.StaticPrice, 0, len(cfg.StaticPrices))
	for i, p := range cfg.StaticPrices {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle.static_prices[%d].price: %w", i, err)
		}
		prices = append(prices, oracle.StaticPrice{BaseToken: p.Base, QuoteToken: p.Quote, Price: price})
	}
	return oracle.NewStaticOracle(logger, prices), nil
}

func decodePrivateKey(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

// stringToAddress decodes a hardcoded chain-constant address. A decode
// failure here means the hardcoded table itself is broken, not user
// input, so it panics instead of threading another error return.
func stringToAddress(hexAddr string) common.Address {
	b, err := hex.DecodeString(strings.TrimPrefix(hexAddr, "0x"))
	if err != nil || len(b) != 20 {
		panic(fmt.Sprintf("invalid hardcoded manager address %q", hexAddr))
	}
	var addr common.Address
	copy(addr[:], b)
	return addr
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
