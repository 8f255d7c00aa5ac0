package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig     `yaml:"log"`
	Chain       ChainConfig       `yaml:"chain"`
	Credibility CredibilityConfig `yaml:"credibility"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	State       StateConfig       `yaml:"state"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	History     HistoryConfig     `yaml:"history"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	WSURL           string        `yaml:"ws_url"`
	FactoryAddress  string        `yaml:"factory_address"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxBlockRange   uint64        `yaml:"max_block_range"`
	StalenessBlocks uint64        `yaml:"staleness_blocks"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
}

type CredibilityConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	MinScore float64       `yaml:"min_score"`
}

// LadderLevel is one partial-exit rung: when total return reaches
// TriggerPercent, sell SellFraction of the remaining size.
type LadderLevel struct {
	TriggerPercent float64 `yaml:"trigger_percent"`
	SellFraction   float64 `yaml:"sell_fraction"`
}

type StrategyConfig struct {
	BuyAmountETH    float64       `yaml:"buy_amount_eth"`
	Ladder          []LadderLevel `yaml:"ladder"`
	StopLossPercent float64       `yaml:"stop_loss_percent"`
	MaxHold         time.Duration `yaml:"max_hold"`
	EvalInterval    time.Duration `yaml:"eval_interval"`
	DustFraction    float64       `yaml:"dust_fraction"`
}

type RiskConfig struct {
	MaxOpenPositions int `yaml:"max_open_positions"`
}

type GatewayConfig struct {
	Mode           string        `yaml:"mode"`
	RouterAddress  string        `yaml:"router_address"`
	ChainID        int64         `yaml:"chain_id"`
	GasLimit       uint64        `yaml:"gas_limit"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

const (
	GatewayModeDryRun = "dry_run"
	GatewayModeRouter = "router"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = strings.TrimSpace(os.Getenv("CHAIN_RPC_URL"))
	}
	if cfg.Chain.WSURL == "" {
		cfg.Chain.WSURL = strings.TrimSpace(os.Getenv("CHAIN_WS_URL"))
	}
	if cfg.Chain.PollInterval == 0 {
		cfg.Chain.PollInterval = 10 * time.Second
	}
	if cfg.Chain.MaxBlockRange == 0 {
		cfg.Chain.MaxBlockRange = 500
	}
	if cfg.Chain.StalenessBlocks == 0 {
		cfg.Chain.StalenessBlocks = 10
	}
	if cfg.Chain.CallTimeout == 0 {
		cfg.Chain.CallTimeout = 10 * time.Second
	}
	if cfg.Chain.ReconnectDelay == 0 {
		cfg.Chain.ReconnectDelay = 3 * time.Second
	}
	if cfg.Credibility.Timeout == 0 {
		cfg.Credibility.Timeout = 10 * time.Second
	}
	if cfg.Strategy.EvalInterval == 0 {
		cfg.Strategy.EvalInterval = 15 * time.Second
	}
	if cfg.Strategy.MaxHold == 0 {
		cfg.Strategy.MaxHold = 30 * time.Minute
	}
	if cfg.Strategy.DustFraction == 0 {
		cfg.Strategy.DustFraction = 0.001
	}
	if cfg.Risk.MaxOpenPositions == 0 {
		cfg.Risk.MaxOpenPositions = 3
	}
	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = GatewayModeDryRun
	}
	if cfg.Gateway.GasLimit == 0 {
		cfg.Gateway.GasLimit = 600_000
	}
	if cfg.Gateway.ConfirmTimeout == 0 {
		cfg.Gateway.ConfirmTimeout = 45 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/launch-ladder-bot.db"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url (or CHAIN_RPC_URL) is required")
	}
	if !isHexAddress(cfg.Chain.FactoryAddress) {
		return fmt.Errorf("chain.factory_address %q is not a valid address", cfg.Chain.FactoryAddress)
	}
	if cfg.Credibility.BaseURL == "" {
		return errors.New("credibility.base_url is required")
	}
	if cfg.Credibility.MinScore <= 0 {
		return errors.New("credibility.min_score must be > 0")
	}
	if cfg.Strategy.BuyAmountETH <= 0 {
		return errors.New("strategy.buy_amount_eth must be > 0")
	}
	if err := ValidateLadder(cfg.Strategy.Ladder); err != nil {
		return fmt.Errorf("strategy.ladder: %w", err)
	}
	if cfg.Strategy.StopLossPercent <= 0 || cfg.Strategy.StopLossPercent >= 100 {
		return errors.New("strategy.stop_loss_percent must be in (0, 100)")
	}
	if cfg.Strategy.DustFraction <= 0 || cfg.Strategy.DustFraction >= 1 {
		return errors.New("strategy.dust_fraction must be in (0, 1)")
	}
	if cfg.Risk.MaxOpenPositions <= 0 {
		return errors.New("risk.max_open_positions must be > 0")
	}
	switch cfg.Gateway.Mode {
	case GatewayModeDryRun:
	case GatewayModeRouter:
		if !isHexAddress(cfg.Gateway.RouterAddress) {
			return fmt.Errorf("gateway.router_address %q is not a valid address", cfg.Gateway.RouterAddress)
		}
		if cfg.Gateway.ChainID <= 0 {
			return errors.New("gateway.chain_id is required in router mode")
		}
	default:
		return fmt.Errorf("gateway.mode must be %q or %q", GatewayModeDryRun, GatewayModeRouter)
	}
	return nil
}

// ValidateLadder rejects a ladder whose trigger percents are not strictly
// increasing, or whose sell fractions fall outside (0, 1]. An empty ladder is
// legal: the position then exits only via stop-loss or the hold deadline.
func ValidateLadder(levels []LadderLevel) error {
	prev := 0.0
	for i, level := range levels {
		if level.TriggerPercent <= 0 {
			return fmt.Errorf("level %d: trigger_percent must be > 0", i)
		}
		if i > 0 && level.TriggerPercent <= prev {
			return fmt.Errorf("level %d: trigger_percent %.2f is not above previous %.2f", i, level.TriggerPercent, prev)
		}
		if level.SellFraction <= 0 || level.SellFraction > 1 {
			return fmt.Errorf("level %d: sell_fraction must be in (0, 1]", i)
		}
		prev = level.TriggerPercent
	}
	return nil
}

func isHexAddress(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
