package config

import (
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Wallet       WalletConfig       `yaml:"wallet"`
	Risk         RiskConfig         `yaml:"risk"`
	Verification VerificationConfig `yaml:"verification"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// InternalToken guards the service-to-service routes (deposit
	// watcher webhook). Empty means those routes refuse everything.
	InternalToken string `yaml:"internal_token"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RateLimitConfig covers both the per-IP transport limiter and the
// per-(user,operation) business windows.
type RateLimitConfig struct {
	RPS            int `yaml:"rps"`
	Burst          int `yaml:"burst"`
	OpWindowSec    int `yaml:"op_window_sec"`
	OpMaxPerWindow int `yaml:"op_max_per_window"`
}

type TelegramConfig struct {
	BotToken     string `yaml:"bot_token"`
	AuthTTLSec   int    `yaml:"auth_ttl_sec"`
	ReplayTTLSec int    `yaml:"replay_ttl_sec"`
}

// WalletConfig holds the fixed business limits of the ledger.
// GhdPerUsdt is a constant conversion ratio, not market-derived.
type WalletConfig struct {
	GhdPerUsdt    decimal.Decimal `yaml:"ghd_per_usdt"`
	MinGhdConvert decimal.Decimal `yaml:"min_ghd_convert"`
	MinAiTransfer decimal.Decimal `yaml:"min_ai_transfer"`
	MaxAiTransfer decimal.Decimal `yaml:"max_ai_transfer"`
	MinWithdrawal decimal.Decimal `yaml:"min_withdrawal"`
	MaxWithdrawal decimal.Decimal `yaml:"max_withdrawal"`
}

// RiskConfig maps score thresholds to verification tiers.
type RiskConfig struct {
	MediumThreshold int `yaml:"medium_threshold"`
	HighThreshold   int `yaml:"high_threshold"`
	RecentWindowHrs int `yaml:"recent_window_hrs"`
}

type VerificationConfig struct {
	SessionTTLMin   int `yaml:"session_ttl_min"`
	TimeDelayHours  int `yaml:"time_delay_hours"`
	MinMultiSigners int `yaml:"min_multi_signers"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override secrets from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Telegram.BotToken = tok
	}
	if tok := os.Getenv("INTERNAL_API_TOKEN"); tok != "" {
		cfg.Server.InternalToken = tok
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in limits (tests, local runs without a file).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Wallet.GhdPerUsdt.IsZero() {
		cfg.Wallet.GhdPerUsdt = decimal.NewFromInt(1000)
	}
	if cfg.Wallet.MinGhdConvert.IsZero() {
		cfg.Wallet.MinGhdConvert = decimal.NewFromInt(10000)
	}
	if cfg.Wallet.MinAiTransfer.IsZero() {
		cfg.Wallet.MinAiTransfer = decimal.NewFromInt(10)
	}
	if cfg.Wallet.MaxAiTransfer.IsZero() {
		cfg.Wallet.MaxAiTransfer = decimal.NewFromInt(100000)
	}
	if cfg.Wallet.MinWithdrawal.IsZero() {
		cfg.Wallet.MinWithdrawal = decimal.NewFromInt(10)
	}
	if cfg.Wallet.MaxWithdrawal.IsZero() {
		cfg.Wallet.MaxWithdrawal = decimal.NewFromInt(50000)
	}
	if cfg.Risk.MediumThreshold == 0 {
		cfg.Risk.MediumThreshold = 40
	}
	if cfg.Risk.HighThreshold == 0 {
		cfg.Risk.HighThreshold = 70
	}
	if cfg.Risk.RecentWindowHrs == 0 {
		cfg.Risk.RecentWindowHrs = 24
	}
	if cfg.Verification.SessionTTLMin == 0 {
		cfg.Verification.SessionTTLMin = 30
	}
	if cfg.Verification.TimeDelayHours == 0 {
		cfg.Verification.TimeDelayHours = 24
	}
	if cfg.Verification.MinMultiSigners == 0 {
		cfg.Verification.MinMultiSigners = 2
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.RateLimit.OpWindowSec == 0 {
		cfg.RateLimit.OpWindowSec = 3600
	}
	if cfg.RateLimit.OpMaxPerWindow == 0 {
		cfg.RateLimit.OpMaxPerWindow = 10
	}
	if cfg.Telegram.AuthTTLSec == 0 {
		cfg.Telegram.AuthTTLSec = 86400
	}
	if cfg.Telegram.ReplayTTLSec == 0 {
		cfg.Telegram.ReplayTTLSec = 300
	}
}
