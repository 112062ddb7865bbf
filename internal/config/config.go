// Package config assembles the engine's Config from a layered source chain:
// an optional .env file seeds the process environment, a JSON config file
// supplies defaults, and environment variables override them — the same
// file-then-env layering config/config.go uses, collapsed to a single
// tenant's settings instead of a multi-tenant SaaS config tree.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the engine's complete runtime configuration.
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Exchange     ExchangeConfig     `json:"exchange"`
	Engine       EngineConfig       `json:"engine"`
	Advisor      AdvisorConfig      `json:"advisor"`
	Risk         RiskConfig         `json:"risk"`
	ExitScanner  ExitScannerConfig  `json:"exit_scanner"`
	Notification NotificationConfig `json:"notification"`
	Vault        VaultConfig        `json:"vault"`
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	TiersFile    string             `json:"tiers_file"`
}

// AdvisorConfig configures the Fast and Deep LLM advisors. Both read the
// same provider/model/timeout shape; the Fast advisor is expected to point
// at a cheaper/smaller model than Deep.
type AdvisorConfig struct {
	Provider        string  `json:"provider"`
	FastModel       string  `json:"fast_model"`
	DeepModel       string  `json:"deep_model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	CryptoPanicKey  string  `json:"-"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Addr string `json:"addr"`
}

type ExchangeConfig struct {
	PaperTrading bool   `json:"paper_trading"`
	BaseURL      string `json:"base_url"`
	TestNet      bool   `json:"testnet"`
}

// EngineConfig tunes cycle cadence and portfolio-wide limits, mirroring
// orchestrator.Config and executor.Config so callers don't re-derive the
// same numbers twice.
type EngineConfig struct {
	CycleIntervalSeconds   int     `json:"cycle_interval_seconds"`
	ExitScanEnabled        bool    `json:"exit_scan_enabled"`
	ExitScanIntervalCycles int     `json:"exit_scan_interval_cycles"`
	SummaryIntervalMinutes int     `json:"summary_interval_minutes"`
	TotalCapitalUSD        float64 `json:"total_capital_usd"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	DCAMinDropPercent      float64 `json:"dca_min_drop_percent"`
}

type RiskConfig struct {
	ConsecutiveLossesToActivate int     `json:"consecutive_losses_to_activate"`
	CooldownHours               float64 `json:"cooldown_hours"`
	MaxDrawdownPercent          float64 `json:"max_drawdown_percent"`
	EntryCooldownHours          float64 `json:"entry_cooldown_hours"`
}

type ExitScannerConfig struct {
	UrgencyThreshold  float64 `json:"urgency_threshold"`
	CriticalThreshold float64 `json:"critical_threshold"`
	CooldownMinutes   int     `json:"cooldown_minutes"`
}

type NotificationConfig struct {
	Enabled        bool           `json:"enabled"`
	RateLimitPerHr int            `json:"rate_limit_per_hour"`
	Telegram       TelegramConfig `json:"telegram"`
	Discord        WebhookConfig  `json:"discord"`
	SMS            WebhookConfig  `json:"sms"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
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

type ServerConfig struct {
	Port                int           `json:"port"`
	Host                string        `json:"host"`
	ProductionMode      bool          `json:"production_mode"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	// OperatorEmail/OperatorPasswordHash are the single dashboard account's
	// credential, checked by auth.Service.Login. The hash is bcrypt, the same
	// format internal/auth/password.go produces.
	OperatorEmail        string `json:"-"`
	OperatorPasswordHash string `json:"-"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// Load reads .env (best-effort, missing file is not an error), then a JSON
// config file if present, then applies environment variable overrides on
// top — in that order, so .env can seed variables the env-override pass
// reads.
func Load(envFile, configFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg, err := loadFromFile(configFile)
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Database.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.Database.Host, "localhost"))
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnvOrDefault("DB_USER", orDefault(cfg.Database.User, "candlewatch"))
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.Database.Database, "candlewatch"))
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", orDefault(cfg.Database.SSLMode, "disable"))

	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", orDefault(cfg.Redis.Addr, "localhost:6379"))

	cfg.Exchange.PaperTrading = getEnvBoolOrDefault("PAPER_TRADING", cfg.Exchange.PaperTrading)
	cfg.Exchange.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", orDefault(cfg.Exchange.BaseURL, "https://api.binance.com"))
	cfg.Exchange.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.Exchange.TestNet)

	cfg.Engine.CycleIntervalSeconds = getEnvIntOrDefault("CYCLE_INTERVAL_SECONDS", orDefaultInt(cfg.Engine.CycleIntervalSeconds, 300))
	cfg.Engine.ExitScanEnabled = getEnvBoolOrDefault("EXIT_SCAN_ENABLED", cfg.Engine.ExitScanEnabled)
	cfg.Engine.ExitScanIntervalCycles = getEnvIntOrDefault("EXIT_SCAN_INTERVAL_CYCLES", orDefaultInt(cfg.Engine.ExitScanIntervalCycles, 3))
	cfg.Engine.SummaryIntervalMinutes = getEnvIntOrDefault("SUMMARY_INTERVAL_MINUTES", orDefaultInt(cfg.Engine.SummaryIntervalMinutes, 60))
	cfg.Engine.TotalCapitalUSD = getEnvFloatOrDefault("TOTAL_CAPITAL_USD", orDefaultFloat(cfg.Engine.TotalCapitalUSD, 10000))
	cfg.Engine.MaxConcurrentPositions = getEnvIntOrDefault("MAX_CONCURRENT_POSITIONS", orDefaultInt(cfg.Engine.MaxConcurrentPositions, 10))
	cfg.Engine.DCAMinDropPercent = getEnvFloatOrDefault("DCA_MIN_DROP_PERCENT", orDefaultFloat(cfg.Engine.DCAMinDropPercent, 3.0))

	cfg.Advisor.Provider = getEnvOrDefault("ADVISOR_PROVIDER", orDefault(cfg.Advisor.Provider, "claude"))
	cfg.Advisor.FastModel = getEnvOrDefault("ADVISOR_FAST_MODEL", orDefault(cfg.Advisor.FastModel, "claude-3-5-haiku-20241022"))
	cfg.Advisor.DeepModel = getEnvOrDefault("ADVISOR_DEEP_MODEL", orDefault(cfg.Advisor.DeepModel, "claude-3-5-sonnet-20241022"))
	cfg.Advisor.MaxTokens = getEnvIntOrDefault("ADVISOR_MAX_TOKENS", orDefaultInt(cfg.Advisor.MaxTokens, 1024))
	cfg.Advisor.Temperature = getEnvFloatOrDefault("ADVISOR_TEMPERATURE", orDefaultFloat(cfg.Advisor.Temperature, 0.2))
	cfg.Advisor.TimeoutSeconds = getEnvIntOrDefault("ADVISOR_TIMEOUT_SECONDS", orDefaultInt(cfg.Advisor.TimeoutSeconds, 30))
	cfg.Advisor.CryptoPanicKey = os.Getenv("CRYPTOPANIC_API_KEY")

	cfg.Risk.ConsecutiveLossesToActivate = getEnvIntOrDefault("RISK_CONSECUTIVE_LOSSES", orDefaultInt(cfg.Risk.ConsecutiveLossesToActivate, 3))
	cfg.Risk.CooldownHours = getEnvFloatOrDefault("RISK_COOLDOWN_HOURS", orDefaultFloat(cfg.Risk.CooldownHours, 4))
	cfg.Risk.MaxDrawdownPercent = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN_PERCENT", orDefaultFloat(cfg.Risk.MaxDrawdownPercent, 15))
	cfg.Risk.EntryCooldownHours = getEnvFloatOrDefault("RISK_ENTRY_COOLDOWN_HOURS", orDefaultFloat(cfg.Risk.EntryCooldownHours, 24))

	cfg.ExitScanner.UrgencyThreshold = getEnvFloatOrDefault("EXIT_URGENCY_THRESHOLD", orDefaultFloat(cfg.ExitScanner.UrgencyThreshold, 40))
	cfg.ExitScanner.CriticalThreshold = getEnvFloatOrDefault("EXIT_CRITICAL_THRESHOLD", orDefaultFloat(cfg.ExitScanner.CriticalThreshold, 70))
	cfg.ExitScanner.CooldownMinutes = getEnvIntOrDefault("EXIT_COOLDOWN_MINUTES", orDefaultInt(cfg.ExitScanner.CooldownMinutes, 30))

	cfg.Notification.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.Notification.Enabled)
	cfg.Notification.RateLimitPerHr = getEnvIntOrDefault("NOTIFICATION_RATE_LIMIT_PER_HOUR", orDefaultInt(cfg.Notification.RateLimitPerHr, 20))
	cfg.Notification.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.Notification.Telegram.Enabled)
	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvInt64OrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)
	cfg.Notification.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.Notification.Discord.Enabled)
	cfg.Notification.Discord.URL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.URL)
	cfg.Notification.SMS.Enabled = getEnvBoolOrDefault("SMS_ENABLED", cfg.Notification.SMS.Enabled)
	cfg.Notification.SMS.URL = getEnvOrDefault("SMS_WEBHOOK_URL", cfg.Notification.SMS.URL)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.Vault.Address, "http://localhost:8200"))
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.Vault.MountPath, "secret"))
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.Vault.SecretPath, "candlewatch/keys"))
	cfg.Vault.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.Vault.TLSEnabled)
	cfg.Vault.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.Vault.CACert)

	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", orDefaultInt(cfg.Server.Port, 8080))
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", orDefault(cfg.Server.Host, "0.0.0.0"))
	cfg.Server.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.Server.ProductionMode)
	cfg.Server.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Server.JWTSecret)
	if cfg.Server.AccessTokenDuration == 0 {
		cfg.Server.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)
	}
	cfg.Server.OperatorEmail = getEnvOrDefault("OPERATOR_EMAIL", cfg.Server.OperatorEmail)
	cfg.Server.OperatorPasswordHash = getEnvOrDefault("OPERATOR_PASSWORD_HASH", cfg.Server.OperatorPasswordHash)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.Logging.Level, "INFO"))
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	cfg.TiersFile = getEnvOrDefault("TIERS_FILE", orDefault(cfg.TiersFile, "tiers.yaml"))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64OrDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
