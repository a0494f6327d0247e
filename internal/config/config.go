package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration read from the environment
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Proxy     ProxyConfig
	Metrics   MetricsConfig
	Chain     ChainConfig
	Explorer  ExplorerConfig
	Deploy    DeployConfig
	Manifest  ManifestConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	// WritesPerMin budgets POST /reconcile, which reads the chain and the explorer
	WritesPerMin   int
	CleanupMinutes int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
	Service string
}

// ChainConfig selects the network and JSON-RPC endpoint.
type ChainConfig struct {
	Network string
	RPCURL  string
	// ChainID overrides the built-in chain id when non-zero.
	ChainID    uint64
	RPCTimeout time.Duration
	// CheckConcurrency bounds concurrent state check calls.
	CheckConcurrency int
}

// ExplorerConfig holds Etherscan-compatible explorer settings
type ExplorerConfig struct {
	APIKey        string
	APIURL        string // overrides the network's explorer API
	RequestsPerS  float64
	Burst         int
	CheckInterval time.Duration
	MaxChecks     int
}

// DeployConfig tunes receipt polling
type DeployConfig struct {
	PrivateKey     string
	PollTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// ManifestConfig locates the JSON manifest files and the build project
type ManifestConfig struct {
	Dir        string
	ProjectDir string
	Builder    string // empty detects the build tool
}

// AuthConfig lists the tokens accepted on write routes. Empty leaves
// them open.
type AuthConfig struct {
	Tokens []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 90),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/deployrecon.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 120),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 20),
			WritesPerMin:   getEnvInt("RATE_LIMIT_WRITES_PER_MIN", 6),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Service: getEnv("METRICS_SERVICE", "deployrecon"),
		},
		Chain: ChainConfig{
			Network:          getEnv("NETWORK", "base-sepolia"),
			RPCURL:           getEnv("RPC_URL", ""),
			ChainID:          uint64(getEnvInt("CHAIN_ID", 0)),
			RPCTimeout:       getEnvDuration("RPC_TIMEOUT", 30*time.Second),
			CheckConcurrency: getEnvInt("STATE_CHECK_CONCURRENCY", 4),
		},
		Explorer: ExplorerConfig{
			APIKey:        getEnv("ETHERSCAN_API_KEY", ""),
			APIURL:        getEnv("EXPLORER_API_URL", ""),
			RequestsPerS:  getEnvFloat("EXPLORER_RPS", 5),
			Burst:         getEnvInt("EXPLORER_BURST", 1),
			CheckInterval: getEnvDuration("VERIFY_CHECK_INTERVAL", 5*time.Second),
			MaxChecks:     getEnvInt("VERIFY_MAX_CHECKS", 10),
		},
		Deploy: DeployConfig{
			PrivateKey:     getEnv("DEPLOYER_PRIVATE_KEY", ""),
			PollTimeout:    getEnvDuration("DEPLOY_POLL_TIMEOUT", 10*time.Minute),
			InitialBackoff: getEnvDuration("DEPLOY_POLL_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:     getEnvDuration("DEPLOY_POLL_MAX_BACKOFF", 30*time.Second),
			MaxAttempts:    getEnvInt("DEPLOY_POLL_MAX_ATTEMPTS", 30),
		},
		Manifest: ManifestConfig{
			Dir:        getEnv("MANIFEST_DIR", "./deployments"),
			ProjectDir: getEnv("PROJECT_DIR", "."),
			Builder:    getEnv("BUILDER", ""),
		},
		Auth: AuthConfig{
			Tokens: getEnvStringSlice("API_TOKENS", nil),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
