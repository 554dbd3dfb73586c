// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional decision audit log; in-memory if unset)
	DatabaseURL string

	// Blockchain / wallet settings
	RPCURL              string
	ChainID             int64
	PrivateKey          string `json:"-"` // buyer wallet, hex, with or without 0x prefix
	CustodianPrivateKey string `json:"-"` // escrow custodian wallet, hex, with or without 0x prefix
	USDCContract        string

	// ACP settlement (Stripe)
	StripeAPIKey string `json:"-"`

	// AP2 settlement (agent-to-agent MCP)
	MCPDefaultEndpoint string

	// Firewall layer
	FirewallEnabled        bool
	EnablePatternDetection bool
	InjectionThreshold     float64
	IntentDiffThreshold    float64

	// Policy engine bounds (0/empty disables the corresponding check)
	MaxPerTransaction         float64
	MaxDaily                  float64
	MaxMonthly                float64
	RequireEscrowAbove        float64
	RequireHumanApprovalAbove float64
	CooldownMs                int64
	AllowedRecipients         []string
	BlockedRecipients         []string
	AllowedCategories         []string

	// Security
	APIKeyHash    string
	WebhookSecret string
	AdminSecret   string
	RateLimitRPM  int

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int // seconds, appended to Postgres DSN
	DBStatementTimeout int // milliseconds, appended to Postgres DSN

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration // global handler execution timeout

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint, empty = disabled
}

// Base Sepolia defaults
const (
	DefaultRPCURL       = "https://sepolia.base.org"
	DefaultChainID      = 84532                                        // Base Sepolia
	DefaultUSDCContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultRateLimit    = 100

	DefaultInjectionThreshold  = 0.7
	DefaultIntentDiffThreshold = 0.6

	// Database pool defaults
	DefaultDBMaxOpenConns     = 25
	DefaultDBMaxIdleConns     = 5
	DefaultDBConnMaxLifetime  = 5 * time.Minute
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5     // seconds
	DefaultDBStatementTimeout = 30000 // milliseconds (30s)

	// HTTP server timeout defaults
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RPCURL:              getEnv("RPC_URL", DefaultRPCURL),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:          os.Getenv("PRIVATE_KEY"),
		CustodianPrivateKey: os.Getenv("ESCROW_CUSTODIAN_PRIVATE_KEY"),
		USDCContract:        getEnv("USDC_CONTRACT", DefaultUSDCContract),

		StripeAPIKey:       os.Getenv("STRIPE_API_KEY"),
		MCPDefaultEndpoint: os.Getenv("AP2_MCP_DEFAULT_ENDPOINT"),

		FirewallEnabled:        getEnvBool("FIREWALL_ENABLED", true),
		EnablePatternDetection: getEnvBool("FIREWALL_PATTERN_DETECTION", true),
		InjectionThreshold:     getEnvFloat64("FIREWALL_INJECTION_THRESHOLD", DefaultInjectionThreshold),
		IntentDiffThreshold:    getEnvFloat64("FIREWALL_INTENT_DIFF_THRESHOLD", DefaultIntentDiffThreshold),

		MaxPerTransaction:         getEnvFloat64("POLICY_MAX_PER_TRANSACTION", 0),
		MaxDaily:                  getEnvFloat64("POLICY_MAX_DAILY", 0),
		MaxMonthly:                getEnvFloat64("POLICY_MAX_MONTHLY", 0),
		RequireEscrowAbove:        getEnvFloat64("POLICY_REQUIRE_ESCROW_ABOVE", 0),
		RequireHumanApprovalAbove: getEnvFloat64("POLICY_REQUIRE_HUMAN_APPROVAL_ABOVE", 0),
		CooldownMs:                getEnvInt64("POLICY_COOLDOWN_MS", 0),
		AllowedRecipients:         getEnvCSV("POLICY_ALLOWED_RECIPIENTS"),
		BlockedRecipients:         getEnvCSV("POLICY_BLOCKED_RECIPIENTS"),
		AllowedCategories:         getEnvCSV("POLICY_ALLOWED_CATEGORIES"),

		APIKeyHash:    os.Getenv("API_KEY_HASH"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:   os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:  int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if err := validateHexKey(c.PrivateKey); err != nil {
		return fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	if c.CustodianPrivateKey != "" {
		if err := validateHexKey(c.CustodianPrivateKey); err != nil {
			return fmt.Errorf("ESCROW_CUSTODIAN_PRIVATE_KEY: %w", err)
		}
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1, got %d", c.RateLimitRPM)
	}

	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}

	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin endpoints accept any authenticated request")
	}

	return nil
}

func validateHexKey(key string) error {
	key = strings.TrimPrefix(key, "0x")
	if len(key) != 64 {
		return fmt.Errorf("must be 64 hex characters (with or without 0x prefix)")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvCSV(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
