// Package config defines all configuration for the LP farming bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
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
	DryRun   bool           `mapstructure:"dry_run"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Farming  FarmingConfig  `mapstructure:"farming"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// FarmingConfig tunes the LP farming control loop.
//
//   - Market: slug of the market to farm (the picker resolves it to tokens).
//   - OrderSizeUSD: target notional per resting order.
//   - RebalanceInterval: normal cadence of the monitoring tick.
//   - TrailInterval: shortened cadence while trailing a falling price.
//   - MidpointThreshold: reprice when the midpoint moves at least this much.
//   - MaxSpread: half-width of the reward zone around the midpoint.
//   - PreExitWindow: cancel everything this long before market resolution.
//
// Crash protection:
//   - CrashThreshold: relative drop from the fill midpoint that activates
//     trailing mode (default 8%). Trailing deactivates below half of it.
//   - TrailStep: reprice threshold while trailing (default 0.5¢).
//   - EmergencyClosePct: relative drop from the fill midpoint that forces
//     a full position liquidation (default 15%).
//
// API failure handling:
//   - APIRetryBackoff: base backoff, multiplied by the failure count.
//   - APINotifyAfter: consecutive failures before the operator is notified.
//   - APIPauseAfter: consecutive failures before cancel-all + safe pause.
//   - APIPauseInterval: how long to sit in the paused state before retrying.
type FarmingConfig struct {
	Market            string        `mapstructure:"market"`
	OrderSizeUSD      float64       `mapstructure:"order_size_usd"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval"`
	TrailInterval     time.Duration `mapstructure:"trail_interval"`
	MidpointThreshold float64       `mapstructure:"midpoint_move_threshold"`
	MaxSpread         float64       `mapstructure:"max_spread"`
	PreExitWindow     time.Duration `mapstructure:"pre_exit_window"`

	CrashThreshold    float64 `mapstructure:"crash_threshold"`
	TrailStep         float64 `mapstructure:"trail_step"`
	EmergencyClosePct float64 `mapstructure:"emergency_close_pct"`

	APIRetryBackoff  time.Duration `mapstructure:"api_retry_backoff"`
	APINotifyAfter   int           `mapstructure:"api_notify_after"`
	APIPauseAfter    int           `mapstructure:"api_pause_after"`
	APIPauseInterval time.Duration `mapstructure:"api_pause_interval"`
}

// RiskConfig sets hard capital limits enforced inside the order manager.
//
//   - MaxLPCapital: cap on position cost + open-order notional combined.
//   - MaxPositionOneSide: max USD accumulated on YES or on NO alone.
//   - MaxLossPerSession: session mark-to-market loss that ends the session.
//   - ActiveStrategy: which autotrader currently owns the capital; the
//     order manager rejects every order unless this is "lp".
type RiskConfig struct {
	MaxLPCapital       float64 `mapstructure:"max_lp_capital"`
	MaxPositionOneSide float64 `mapstructure:"max_position_one_side"`
	MaxLossPerSession  float64 `mapstructure:"max_loss_per_session"`
	ActiveStrategy     string  `mapstructure:"active_strategy"`
}

// StoreConfig sets where session state is persisted.
type StoreConfig struct {
	StateFile string `mapstructure:"state_file"`
}

// JournalConfig sets the SQLite fill/session history. Empty path disables it.
type JournalConfig struct {
	Path           string        `mapstructure:"path"`
	RetainSessions time.Duration `mapstructure:"retain_sessions"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty = stdout only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// TelegramConfig controls operator notifications.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE, POLY_TG_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if token := os.Getenv("POLY_TG_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("farming.order_size_usd", 50.0)
	v.SetDefault("farming.rebalance_interval", "30s")
	v.SetDefault("farming.trail_interval", "5s")
	v.SetDefault("farming.midpoint_move_threshold", 0.01)
	v.SetDefault("farming.max_spread", 0.04)
	v.SetDefault("farming.pre_exit_window", "2h")
	v.SetDefault("farming.crash_threshold", 0.08)
	v.SetDefault("farming.trail_step", 0.005)
	v.SetDefault("farming.emergency_close_pct", 0.15)
	v.SetDefault("farming.api_retry_backoff", "10s")
	v.SetDefault("farming.api_notify_after", 4)
	v.SetDefault("farming.api_pause_after", 5)
	v.SetDefault("farming.api_pause_interval", "60s")
	v.SetDefault("risk.max_lp_capital", 300.0)
	v.SetDefault("risk.max_position_one_side", 150.0)
	v.SetDefault("risk.max_loss_per_session", 20.0)
	v.SetDefault("risk.active_strategy", "lp")
	v.SetDefault("store.state_file", "data/lp_state.json")
	v.SetDefault("journal.retain_sessions", "720h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
}

// Mode returns the execution mode implied by the dry_run flag.
func (c *Config) Mode() string {
	if c.DryRun {
		return "dry_run"
	}
	return "live"
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set POLY_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
		if c.API.CLOBBaseURL == "" {
			return fmt.Errorf("api.clob_base_url is required in live mode")
		}
	}
	if c.Farming.OrderSizeUSD <= 0 {
		return fmt.Errorf("farming.order_size_usd must be > 0")
	}
	if c.Farming.RebalanceInterval < time.Second {
		return fmt.Errorf("farming.rebalance_interval must be at least 1s")
	}
	if c.Farming.MaxSpread <= 0 {
		return fmt.Errorf("farming.max_spread must be > 0")
	}
	if c.Farming.EmergencyClosePct <= 0 || c.Farming.EmergencyClosePct >= 1 {
		return fmt.Errorf("farming.emergency_close_pct must be in (0, 1)")
	}
	if c.Farming.APIPauseAfter <= c.Farming.APINotifyAfter {
		return fmt.Errorf("farming.api_pause_after must be greater than farming.api_notify_after")
	}
	if c.Risk.MaxLPCapital <= 0 {
		return fmt.Errorf("risk.max_lp_capital must be > 0")
	}
	if c.Risk.MaxPositionOneSide <= 0 {
		return fmt.Errorf("risk.max_position_one_side must be > 0")
	}
	if c.Risk.MaxLossPerSession <= 0 {
		return fmt.Errorf("risk.max_loss_per_session must be > 0")
	}
	if c.Store.StateFile == "" {
		return fmt.Errorf("store.state_file is required")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram.enabled")
	}
	return nil
}
