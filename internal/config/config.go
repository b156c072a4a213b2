// Package config handles loading and validating go-signal configuration from
// YAML files and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Engine   EngineConfig   `yaml:"engine"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Account  AccountConfig  `yaml:"account"`
	Journal  JournalConfig  `yaml:"journal"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env      string    `yaml:"env"`
	LogLevel string    `yaml:"logLevel"`
	Log      LogConfig `yaml:"log"`
}

// LogConfig controls the rotated log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// ExchangeConfig configures candle retrieval.
type ExchangeConfig struct {
	// Source is "mexc" for the live REST feed or "demo" for synthetic candles.
	Source         string        `yaml:"source"`
	BaseURL        string        `yaml:"baseUrl"`
	APIKey         string        `yaml:"apiKey"`
	Timeframe      string        `yaml:"timeframe"`
	Limit          int           `yaml:"limit"`
	TrendTimeframe string        `yaml:"trendTimeframe"`
	TrendLimit     int           `yaml:"trendLimit"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// EngineConfig holds evaluation loop settings.
type EngineConfig struct {
	Symbols  []string      `yaml:"symbols"`
	Interval time.Duration `yaml:"interval"`
	// Align schedules cycles on wall-clock multiples of Interval.
	Align bool `yaml:"align"`
	// RunOnStart evaluates once immediately instead of waiting for the first tick.
	RunOnStart    bool `yaml:"runOnStart"`
	ChannelPeriod int  `yaml:"channelPeriod"`
	MoneyFlowLen  int  `yaml:"moneyFlowPeriod"`
	EMAPeriod     int  `yaml:"emaPeriod"`
	VolatilityLen int  `yaml:"volatilityPeriod"`
	TrendEMA      int  `yaml:"trendEmaPeriod"`
	// TrendMaxAge is how old the last trend candle may be before the trend is
	// reported as neutral.
	TrendMaxAge time.Duration `yaml:"trendMaxAge"`
	RecentEvents int          `yaml:"recentEvents"`
}

// ScoringConfig holds the tunable signal thresholds.
type ScoringConfig struct {
	StrongBuyThreshold  float64 `yaml:"strongBuyThreshold"`
	StrongSellThreshold float64 `yaml:"strongSellThreshold"`
	VolatilityFloor     float64 `yaml:"volatilityFloor"`
}

// AccountConfig holds paper account parameters.
type AccountConfig struct {
	StartingBalance      float64 `yaml:"startingBalance"`
	RiskPercent          float64 `yaml:"riskPercent"`
	ProfitGoalFraction   float64 `yaml:"profitGoalFraction"`
	MinimumTradeNotional float64 `yaml:"minimumTradeNotional"`
	// DrawdownLevels optionally shrink or block new positions as the
	// account draws down from its peak. Empty disables the guard.
	DrawdownLevels []DrawdownLevel `yaml:"drawdownLevels"`
}

// DrawdownLevel is one step of the balance guard.
type DrawdownLevel struct {
	Name             string  `yaml:"name"`
	ThresholdPercent float64 `yaml:"thresholdPercent"`
	// RiskScale multiplies the risk fraction while the level is active.
	RiskScale  float64 `yaml:"riskScale"`
	BlockOpens bool    `yaml:"blockOpens"`
}

// JournalConfig controls the append-only JSONL event journal.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// NotifyConfig controls chat alerts.
type NotifyConfig struct {
	DiscordWebhookURL string        `yaml:"discordWebhookUrl"`
	Timeout           time.Duration `yaml:"timeout"`
	// Kinds restricts which event kinds are forwarded. Empty means strong
	// signals and position lifecycle events.
	Kinds []string `yaml:"kinds"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listenAddress"`
}

// EnvOverrides are read from the environment (and an optional .env file)
// after the YAML file. Secrets belong here rather than in the YAML.
type EnvOverrides struct {
	LogLevel          string `envconfig:"LOG_LEVEL"`
	APIKey            string `envconfig:"API_KEY"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	ListenAddress     string `envconfig:"LISTEN_ADDRESS"`
}

// EnvPrefix is the prefix of all environment overrides, e.g. SIGNAL_API_KEY.
const EnvPrefix = "SIGNAL"

// Load reads and parses a YAML configuration file, applies environment
// overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. It is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("setting config defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// demo runs and tests.
func Default() *Config {
	cfg := newConfig()
	_ = cfg.setDefaults()
	return cfg
}

// newConfig presets the fields for which zero is a meaningful setting, so
// only a missing key falls back to the default.
func newConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			StrongBuyThreshold:  0.10,
			StrongSellThreshold: -0.10,
		},
		Account: AccountConfig{
			StartingBalance:      100,
			MinimumTradeNotional: 1,
		},
	}
}

func (c *Config) applyEnv() error {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.LogLevel != "" {
		c.App.LogLevel = env.LogLevel
	}
	if env.APIKey != "" {
		c.Exchange.APIKey = env.APIKey
	}
	if env.DiscordWebhookURL != "" {
		c.Notify.DiscordWebhookURL = env.DiscordWebhookURL
	}
	if env.ListenAddress != "" {
		c.API.ListenAddress = env.ListenAddress
	}
	return nil
}

// setDefaults applies sensible defaults for optional fields.
func (c *Config) setDefaults() error {
	if c.App.Env == "" {
		c.App.Env = "prod"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Log.File == "" {
		c.App.Log.File = "logs/signal.log"
	}
	if c.App.Log.MaxSizeMB == 0 {
		c.App.Log.MaxSizeMB = 50
	}
	if c.App.Log.MaxBackups == 0 {
		c.App.Log.MaxBackups = 10
	}
	if c.App.Log.MaxAgeDays == 0 {
		c.App.Log.MaxAgeDays = 30
	}

	if c.Exchange.Source == "" {
		c.Exchange.Source = "mexc"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.mexc.com"
	}
	if c.Exchange.Timeframe == "" {
		c.Exchange.Timeframe = "5m"
	}
	if c.Exchange.Limit == 0 {
		c.Exchange.Limit = 100
	}
	if c.Exchange.TrendTimeframe == "" {
		c.Exchange.TrendTimeframe = "60m"
	}
	if c.Exchange.TrendLimit == 0 {
		c.Exchange.TrendLimit = 50
	}
	if c.Exchange.RequestTimeout == 0 {
		c.Exchange.RequestTimeout = 10 * time.Second
	}

	if len(c.Engine.Symbols) == 0 {
		c.Engine.Symbols = []string{"MOODENGUSDT", "PIPPINUSDT"}
	}
	if c.Engine.Interval == 0 {
		c.Engine.Interval = 15 * time.Minute
	}
	if c.Engine.ChannelPeriod == 0 {
		c.Engine.ChannelPeriod = 20
	}
	if c.Engine.MoneyFlowLen == 0 {
		c.Engine.MoneyFlowLen = 20
	}
	if c.Engine.EMAPeriod == 0 {
		c.Engine.EMAPeriod = 50
	}
	if c.Engine.VolatilityLen == 0 {
		c.Engine.VolatilityLen = 14
	}
	if c.Engine.TrendEMA == 0 {
		c.Engine.TrendEMA = 50
	}
	if c.Engine.TrendMaxAge == 0 {
		c.Engine.TrendMaxAge = 3 * time.Hour
	}
	if c.Engine.RecentEvents == 0 {
		c.Engine.RecentEvents = 200
	}

	if c.Scoring.VolatilityFloor == 0 {
		c.Scoring.VolatilityFloor = 1e-6
	}

	if c.Account.RiskPercent == 0 {
		c.Account.RiskPercent = 0.1
	}
	if c.Account.ProfitGoalFraction == 0 {
		c.Account.ProfitGoalFraction = 0.3
	}

	for i := range c.Account.DrawdownLevels {
		lvl := &c.Account.DrawdownLevels[i]
		if lvl.Name == "" {
			lvl.Name = fmt.Sprintf("DD%g", lvl.ThresholdPercent)
		}
		if lvl.RiskScale == 0 {
			lvl.RiskScale = 1
		}
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "logs/events.jsonl"
	}
	if c.Journal.MaxSizeMB == 0 {
		c.Journal.MaxSizeMB = 100
	}
	if c.Journal.MaxBackups == 0 {
		c.Journal.MaxBackups = 20
	}

	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = "127.0.0.1:8090"
	}
	return nil
}

// Validate checks ranges that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("app.logLevel %q must be one of debug, info, warn, error", c.App.LogLevel))
	}
	switch c.Exchange.Source {
	case "mexc", "demo":
	default:
		errs = append(errs, fmt.Errorf("exchange.source %q must be mexc or demo", c.Exchange.Source))
	}
	if c.Engine.Interval < time.Second {
		errs = append(errs, fmt.Errorf("engine.interval %s is below one second", c.Engine.Interval))
	}
	if c.Account.RiskPercent <= 0 || c.Account.RiskPercent > 1 {
		errs = append(errs, fmt.Errorf("account.riskPercent %v must be in (0, 1]", c.Account.RiskPercent))
	}
	if c.Account.ProfitGoalFraction <= 0 {
		errs = append(errs, fmt.Errorf("account.profitGoalFraction %v must be positive", c.Account.ProfitGoalFraction))
	}
	if c.Account.StartingBalance < 0 {
		errs = append(errs, fmt.Errorf("account.startingBalance %v must not be negative", c.Account.StartingBalance))
	}
	if c.Account.MinimumTradeNotional < 0 {
		errs = append(errs, fmt.Errorf("account.minimumTradeNotional %v must not be negative", c.Account.MinimumTradeNotional))
	}
	if c.Scoring.StrongBuyThreshold < 0 {
		errs = append(errs, fmt.Errorf("scoring.strongBuyThreshold %v must not be negative", c.Scoring.StrongBuyThreshold))
	}
	if c.Scoring.StrongSellThreshold > 0 {
		errs = append(errs, fmt.Errorf("scoring.strongSellThreshold %v must not be positive", c.Scoring.StrongSellThreshold))
	}
	if c.Scoring.VolatilityFloor <= 0 {
		errs = append(errs, fmt.Errorf("scoring.volatilityFloor %v must be positive", c.Scoring.VolatilityFloor))
	}
	for _, lvl := range c.Account.DrawdownLevels {
		if lvl.ThresholdPercent <= 0 || lvl.ThresholdPercent > 100 {
			errs = append(errs, fmt.Errorf("account.drawdownLevels %s: thresholdPercent %v must be in (0, 100]", lvl.Name, lvl.ThresholdPercent))
		}
		if lvl.RiskScale <= 0 || lvl.RiskScale > 1 {
			errs = append(errs, fmt.Errorf("account.drawdownLevels %s: riskScale %v must be in (0, 1]", lvl.Name, lvl.RiskScale))
		}
	}
	seen := make(map[string]bool, len(c.Engine.Symbols))
	for _, s := range c.Engine.Symbols {
		if s == "" {
			errs = append(errs, errors.New("engine.symbols contains an empty symbol"))
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("engine.symbols lists %s twice", s))
		}
		seen[s] = true
	}
	return multierr.Combine(errs...)
}
