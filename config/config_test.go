package config

import (
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Provider.BaseURL == "" || cfg.Provider.CryptoExchange != "Binance" {
		t.Errorf("provider defaults = %+v", cfg.Provider)
	}
	if cfg.Scanner.IntervalMinutes != 5 || len(cfg.Scanner.Symbols) == 0 {
		t.Errorf("scanner defaults = %+v", cfg.Scanner)
	}
	if cfg.Risk.AccountSize != 10000 || cfg.Risk.RiskPercent != 2 {
		t.Errorf("risk defaults = %+v", cfg.Risk)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 99999 }},
		{"excessive risk", func(c *Config) { c.Risk.RiskPercent = 25 }},
		{"unknown grade", func(c *Config) { c.Scanner.MinGrade = "S" }},
		{"db enabled without url", func(c *Config) { c.Database.Enabled = true; c.Database.URL = "" }},
	}
	for _, tc := range cases {
		cfg := &Config{}
		applyDefaults(cfg)
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRYPTO_EXCHANGE", "Coinbase")
	t.Setenv("DATABASE_URL", "postgres://localhost/signals")
	t.Setenv("SCAN_SYMBOLS", "EURUSD, BTCUSD ,XAUUSD")
	t.Setenv("WEB_PORT", "9090")

	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Provider.CryptoExchange != "Coinbase" {
		t.Errorf("exchange = %s", cfg.Provider.CryptoExchange)
	}
	if !cfg.Database.Enabled || cfg.Database.URL != "postgres://localhost/signals" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if len(cfg.Scanner.Symbols) != 3 || cfg.Scanner.Symbols[1] != "BTCUSD" {
		t.Errorf("symbols = %v", cfg.Scanner.Symbols)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.ScanInterval() != 5*time.Minute {
		t.Errorf("interval = %v", cfg.ScanInterval())
	}
	if cfg.ProviderTimeout() != 15*time.Second {
		t.Errorf("timeout = %v", cfg.ProviderTimeout())
	}
}
