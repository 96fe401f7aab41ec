// Package config loads engine configuration from config.json with
// environment-variable overrides on top. A missing file is fine; every
// setting has a usable default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	Scanner   ScannerConfig   `json:"scanner"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Vault     VaultConfig     `json:"vault"`
	Alerts    AlertsConfig    `json:"alerts"`
	Risk      RiskConfig      `json:"risk"`
	Detection DetectionConfig `json:"detection"`
	Logging   LoggingConfig   `json:"logging"`
	DataDir   string          `json:"data_dir"`
}

// ProviderConfig holds upstream market-data provider settings. The API key
// itself is resolved through the secrets provider, never from this file.
type ProviderConfig struct {
	BaseURL           string `json:"base_url"`
	CryptoExchange    string `json:"crypto_exchange"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

type ScannerConfig struct {
	Enabled         bool     `json:"enabled"`
	IntervalMinutes int      `json:"interval_minutes"`
	Workers         int      `json:"workers"`
	Symbols         []string `json:"symbols"`
	MinGrade        string   `json:"min_grade"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	AuthKey    string `json:"-"`
}

// RiskConfig drives position sizing on every decision.
type RiskConfig struct {
	AccountSize    float64 `json:"account_size"`
	RiskPercent    float64 `json:"risk_percent"`
	MaxExposurePct float64 `json:"max_exposure_pct"`
	RRTarget       float64 `json:"rr_target"`
}

type DetectionConfig struct {
	CooldownMinutes int    `json:"cooldown_minutes"`
	MinGrade        string `json:"min_grade"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// defaultWatchlist is the scan universe when none is configured.
var defaultWatchlist = []string{
	"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD",
	"XAUUSD", "XAGUSD",
	"BTCUSD", "ETHUSD",
	"SPX500", "NAS100", "USOIL",
}

// Load reads config.json if present, then applies environment overrides.
// A .env file in the working directory is honored for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Provider.BaseURL = getEnvOrDefault("DATA_PROVIDER_BASE_URL", cfg.Provider.BaseURL)
	cfg.Provider.CryptoExchange = getEnvOrDefault("CRYPTO_EXCHANGE", cfg.Provider.CryptoExchange)

	cfg.Scanner.Enabled = getEnvOrDefault("SCANNER_ENABLED", "true") == "true"
	cfg.Scanner.IntervalMinutes = getEnvIntOrDefault("SCAN_INTERVAL_MINUTES", cfg.Scanner.IntervalMinutes)
	if v := os.Getenv("SCAN_SYMBOLS"); v != "" {
		cfg.Scanner.Symbols = splitList(v)
	}

	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolString(cfg.Server.ProductionMode)) == "true"

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Enabled = true
		cfg.Database.URL = v
	}

	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.Vault.Enabled)) == "true"
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Enabled = true
		cfg.Alerts.WebhookURL = v
	}
	cfg.Alerts.AuthKey = getEnvOrDefault("ALERT_WEBHOOK_KEY", cfg.Alerts.AuthKey)

	cfg.Risk.AccountSize = getEnvFloatOrDefault("ACCOUNT_SIZE", cfg.Risk.AccountSize)
	cfg.Risk.RiskPercent = getEnvFloatOrDefault("RISK_PERCENT", cfg.Risk.RiskPercent)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Console = getEnvOrDefault("LOG_CONSOLE", boolString(cfg.Logging.Console)) == "true"

	cfg.DataDir = getEnvOrDefault("DATA_DIR", cfg.DataDir)
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.twelvedata.com"
	}
	if cfg.Provider.CryptoExchange == "" {
		cfg.Provider.CryptoExchange = "Binance"
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = 15
	}
	if cfg.Provider.RequestsPerMinute <= 0 {
		cfg.Provider.RequestsPerMinute = 55
	}

	if cfg.Scanner.IntervalMinutes <= 0 {
		cfg.Scanner.IntervalMinutes = 5
	}
	if cfg.Scanner.Workers <= 0 {
		cfg.Scanner.Workers = 4
	}
	if len(cfg.Scanner.Symbols) == 0 {
		cfg.Scanner.Symbols = append([]string(nil), defaultWatchlist...)
	}
	if cfg.Scanner.MinGrade == "" {
		cfg.Scanner.MinGrade = "B"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Vault.Address == "" {
		cfg.Vault.Address = "http://localhost:8200"
	}

	if cfg.Risk.AccountSize <= 0 {
		cfg.Risk.AccountSize = 10000
	}
	if cfg.Risk.RiskPercent <= 0 {
		cfg.Risk.RiskPercent = 2
	}
	if cfg.Risk.MaxExposurePct <= 0 {
		cfg.Risk.MaxExposurePct = 10
	}
	if cfg.Risk.RRTarget <= 0 {
		cfg.Risk.RRTarget = 2.0
	}

	if cfg.Detection.CooldownMinutes <= 0 {
		cfg.Detection.CooldownMinutes = 60
	}
	if cfg.Detection.MinGrade == "" {
		cfg.Detection.MinGrade = "B"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Risk.RiskPercent > 10 {
		return fmt.Errorf("risk percent %.1f exceeds the 10%% ceiling", c.Risk.RiskPercent)
	}
	if c.Scanner.IntervalMinutes < 1 {
		return fmt.Errorf("scan interval must be at least one minute")
	}
	switch c.Scanner.MinGrade {
	case "A+", "A", "B+", "B", "C":
	default:
		return fmt.Errorf("unknown scanner min grade %q", c.Scanner.MinGrade)
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database enabled but DATABASE_URL is empty")
	}
	return nil
}

// ScanInterval returns the scanner interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalMinutes) * time.Minute
}

// ProviderTimeout returns the HTTP timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
