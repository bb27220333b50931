// Package config defines all configuration for the market-making agent.
// Config is loaded from a YAML file with sensitive fields overridable via
// MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Hub     HubConfig     `mapstructure:"hub"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	ChainID uint64        `mapstructure:"chain_id"`
	Pairs   []PairConfig  `mapstructure:"pairs"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

// HubConfig holds the MM hub's WebSocket endpoint and bearer JWT.
type HubConfig struct {
	WSURL string `mapstructure:"ws_url"`
	JWT   string `mapstructure:"jwt"`
}

// WalletConfig holds the Ethereum wallet used for signing MMQuote orders.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// PairConfig is one offered trading pair, in human-readable decimal units;
// converted to types.TradingPair (with decimal.Decimal fields) at startup.
type PairConfig struct {
	BaseToken    string            `mapstructure:"base_token"`
	QuoteToken   string            `mapstructure:"quote_token"`
	BidSpreadBps uint16            `mapstructure:"bid_spread_bps"`
	AskSpreadBps uint16            `mapstructure:"ask_spread_bps"`
	OrderAmount  string            `mapstructure:"order_amount"`
	MinOrderSize string            `mapstructure:"min_order_size"`
	MaxOrderSize string            `mapstructure:"max_order_size"`
	Levels       []PairLevelConfig `mapstructure:"levels"`
}

// PairLevelConfig is one configured depth rung.
type PairLevelConfig struct {
	SpreadBps uint16 `mapstructure:"spread_bps"`
	Amount    string `mapstructure:"amount"`
}

// OracleConfig selects and configures the price oracle.
type OracleConfig struct {
	Source       string              `mapstructure:"source"`
	StaticPrices []StaticPriceConfig `mapstructure:"static_prices"`
}

// StaticPriceConfig is one configured static mid price.
type StaticPriceConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
	Price string `mapstructure:"price"`
}

// LoggingConfig controls slog handler selection and optional file sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StatusConfig controls the HTTP status/metrics server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ReconnectConfig tunes the supervisor's exponential backoff. Not exposed
// in YAML yet; defaults are applied by the supervisor package.
type ReconnectConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_PRIVATE_KEY, MM_JWT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if jwt := os.Getenv("MM_JWT"); jwt != "" {
		cfg.Hub.JWT = jwt
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Hub.WSURL == "" {
		return fmt.Errorf("hub.ws_url is required")
	}
	if c.Hub.JWT == "" {
		return fmt.Errorf("hub.jwt is required (set MM_JWT)")
	}
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set MM_PRIVATE_KEY)")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one entry in pairs is required")
	}
	for i, p := range c.Pairs {
		if p.BaseToken == "" || p.QuoteToken == "" {
			return fmt.Errorf("pairs[%d]: base_token and quote_token are required", i)
		}
	}
	if c.Status.Enabled && c.Status.Port == 0 {
		return fmt.Errorf("status.port is required when status.enabled is true")
	}
	return nil
}
