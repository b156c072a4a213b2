package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("engine:\n  symbols: [AAAUSDT]\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.App.Env != "prod" || cfg.App.LogLevel != "info" {
		t.Fatalf("app defaults not applied: %+v", cfg.App)
	}
	if cfg.Exchange.Timeframe != "5m" || cfg.Exchange.Limit != 100 || cfg.Exchange.TrendTimeframe != "60m" {
		t.Fatalf("exchange defaults not applied: %+v", cfg.Exchange)
	}
	if cfg.Engine.Interval != 15*time.Minute || cfg.Engine.EMAPeriod != 50 {
		t.Fatalf("engine defaults not applied: %+v", cfg.Engine)
	}
	if len(cfg.Engine.Symbols) != 1 || cfg.Engine.Symbols[0] != "AAAUSDT" {
		t.Fatalf("configured symbols replaced: %v", cfg.Engine.Symbols)
	}
	if cfg.Account.RiskPercent != 0.1 || cfg.Account.ProfitGoalFraction != 0.3 {
		t.Fatalf("account defaults not applied: %+v", cfg.Account)
	}
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte("engine:\n  interval: 5m\n  trendMaxAge: 90m\nexchange:\n  requestTimeout: 3s\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Engine.Interval != 5*time.Minute || cfg.Engine.TrendMaxAge != 90*time.Minute || cfg.Exchange.RequestTimeout != 3*time.Second {
		t.Fatalf("durations not parsed: %+v %+v", cfg.Engine, cfg.Exchange)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNAL_API_KEY", "k-123")
	t.Setenv("SIGNAL_DISCORD_WEBHOOK_URL", "https://discord.example/hook")
	t.Setenv("SIGNAL_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("exchange:\n  apiKey: from-yaml\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Exchange.APIKey != "k-123" {
		t.Fatalf("api key=%q want env override", cfg.Exchange.APIKey)
	}
	if cfg.Notify.DiscordWebhookURL != "https://discord.example/hook" || cfg.App.LogLevel != "debug" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Notify, cfg.App)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.App.LogLevel = "loud"
	cfg.Exchange.Source = "binance"
	cfg.Account.RiskPercent = 1.5
	cfg.Scoring.StrongSellThreshold = 0.2
	cfg.Engine.Symbols = []string{"AAA", "AAA"}

	err := cfg.Validate()
	if got := len(multierr.Errors(err)); got != 5 {
		t.Fatalf("got %d errors want 5: %v", got, err)
	}
	if !strings.Contains(err.Error(), "lists AAA twice") {
		t.Fatalf("duplicate symbol not reported: %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("exchange:\n  source: demo\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil || cfg.Exchange.Source != "demo" {
		t.Fatalf("Load: %+v, %v", cfg, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("engine: [unterminated"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected a YAML error")
	}
}

func TestParseKeepsExplicitZeros(t *testing.T) {
	cfg, err := Parse([]byte("scoring:\n  strongBuyThreshold: 0\n  strongSellThreshold: 0\naccount:\n  startingBalance: 0\n  minimumTradeNotional: 0\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Scoring.StrongBuyThreshold != 0 || cfg.Scoring.StrongSellThreshold != 0 {
		t.Fatalf("explicit zero thresholds replaced: %+v", cfg.Scoring)
	}
	if cfg.Account.StartingBalance != 0 || cfg.Account.MinimumTradeNotional != 0 {
		t.Fatalf("explicit zero account values replaced: %+v", cfg.Account)
	}

	cfg, err = Parse([]byte("engine:\n  symbols: [AAAUSDT]\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Scoring.StrongBuyThreshold != 0.10 || cfg.Scoring.StrongSellThreshold != -0.10 {
		t.Fatalf("threshold defaults not applied: %+v", cfg.Scoring)
	}
	if cfg.Account.StartingBalance != 100 || cfg.Account.MinimumTradeNotional != 1 {
		t.Fatalf("account defaults not applied: %+v", cfg.Account)
	}
}
