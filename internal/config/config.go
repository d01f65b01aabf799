package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides, e.g. ORDERBOT_ENGINE__MAX_QUANTITY=10
const EnvPrefix = "ORDERBOT_"

// Session backends
const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Config is the full application configuration
type Config struct {
	Server struct {
		Port              string `koanf:"port"`
		Environment       string `koanf:"environment"`
		ValidateSignature bool   `koanf:"validate_signature"`
		PublicURL         string `koanf:"public_url"`
		AdminKey          string `koanf:"admin_key"`
		DefaultTenant     string `koanf:"default_tenant"`
	} `koanf:"server"`

	Log LogConfig `koanf:"log"`

	Twilio struct {
		AccountSID    string  `koanf:"account_sid"`
		AuthToken     string  `koanf:"auth_token"`
		WhatsAppFrom  string  `koanf:"whatsapp_from"`
		RatePerSecond float64 `koanf:"rate_per_second"`
		Burst         int     `koanf:"burst"`
	} `koanf:"twilio"`

	Database struct {
		DSN                    string `koanf:"dsn"`
		Host                   string `koanf:"host"`
		Port                   int    `koanf:"port"`
		User                   string `koanf:"user"`
		Password               string `koanf:"password"`
		Name                   string `koanf:"name"`
		InstanceConnectionName string `koanf:"instance_connection_name"`
	} `koanf:"database"`

	Redis struct {
		URL string `koanf:"url"`
	} `koanf:"redis"`

	Sessions struct {
		Backend string        `koanf:"backend"`
		TTL     time.Duration `koanf:"ttl"` // Redis key expiry, 0 keeps sessions forever
	} `koanf:"sessions"`

	Engine EngineConfig `koanf:"engine"`

	Submission SubmissionConfig `koanf:"submission"`

	Catalog struct {
		CacheSize int           `koanf:"cache_size"`
		CacheTTL  time.Duration `koanf:"cache_ttl"`
	} `koanf:"catalog"`

	Jobs struct {
		IdleResetAfter time.Duration `koanf:"idle_reset_after"`
		SweepInterval  time.Duration `koanf:"sweep_interval"`
	} `koanf:"jobs"`

	Seed struct {
		File string `koanf:"file"`
	} `koanf:"seed"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"` // json or console
	Output     string `koanf:"output"` // stdout, stderr or file
	FilePath   string `koanf:"file_path"`
	TimeFormat string `koanf:"time_format"`
}

// EngineConfig tunes the conversation engine
type EngineConfig struct {
	MaxQuantity int           `koanf:"max_quantity"`
	PageSize    int           `koanf:"page_size"`
	IOTimeout   time.Duration `koanf:"io_timeout"`
	LockWait    time.Duration `koanf:"lock_wait"`
	MaxConflict int           `koanf:"max_conflict_retries"`
}

// SubmissionConfig configures the order submission backend and retries
type SubmissionConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	FallbackMerchant bool          `koanf:"fallback_merchant"`
}

var defaults = map[string]interface{}{
	"server.port":               "8080",
	"server.environment":        "development",
	"server.validate_signature": true,

	"log.level":       "info",
	"log.format":      "json",
	"log.output":      "stdout",
	"log.file_path":   "logs/orderbot.log",
	"log.time_format": "rfc3339",

	"twilio.rate_per_second": 10.0,
	"twilio.burst":           5,

	"database.host": "localhost",
	"database.port": 5432,
	"database.user": "postgres",
	"database.name": "orderbot",

	"sessions.backend": SessionBackendMemory,
	"sessions.ttl":     "0s",

	"engine.max_quantity":         20,
	"engine.page_size":            9,
	"engine.io_timeout":           "8s",
	"engine.lock_wait":            "30s",
	"engine.max_conflict_retries": 3,

	"submission.timeout":           "10s",
	"submission.max_retries":       2,
	"submission.base_delay":        "500ms",
	"submission.max_delay":         "5s",
	"submission.fallback_merchant": false,

	"catalog.cache_size": 512,
	"catalog.cache_ttl":  "2m",

	"jobs.idle_reset_after": "24h",
	"jobs.sweep_interval":   "15m",
}

// legacyEnv maps the plain variable names used by existing deployments
var legacyEnv = map[string]string{
	"PORT":                     "server.port",
	"ENVIRONMENT":              "server.environment",
	"DATABASE_URL":             "database.dsn",
	"DB_USER":                  "database.user",
	"DB_PASS":                  "database.password",
	"DB_NAME":                  "database.name",
	"INSTANCE_CONNECTION_NAME": "database.instance_connection_name",
	"REDIS_URL":                "redis.url",
	"TWILIO_ACCOUNT_SID":       "twilio.account_sid",
	"TWILIO_AUTH_TOKEN":        "twilio.auth_token",
	"TWILIO_WHATSAPP_FROM":     "twilio.whatsapp_from",
	"ADMIN_KEY":                "server.admin_key",
}

// Load reads defaults, the optional TOML file, .env, and the environment, in
// increasing order of precedence.
func Load(configPath string) (*Config, error) {
	// .env is optional, local development only
	_ = godotenv.Load(".env")

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	legacy := map[string]interface{}{}
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			legacy[key] = v
		}
	}
	if v := os.Getenv("DISABLE_WEBHOOK_VALIDATION"); v == "true" {
		legacy["server.validate_signature"] = false
	}
	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading legacy environment: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns ORDERBOT_ENGINE__MAX_QUANTITY into engine.max_quantity
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Sessions.Backend {
	case SessionBackendMemory, SessionBackendPostgres, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.Backend == SessionBackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis session backend requires redis.url")
	}
	if c.Engine.MaxQuantity < 1 {
		return fmt.Errorf("engine.max_quantity must be at least 1, got %d", c.Engine.MaxQuantity)
	}
	// WhatsApp list pickers hold at most 10 rows; one is reserved for "More"
	if c.Engine.PageSize < 1 || c.Engine.PageSize > 9 {
		return fmt.Errorf("engine.page_size must be between 1 and 9, got %d", c.Engine.PageSize)
	}
	if c.Engine.IOTimeout <= 0 {
		return fmt.Errorf("engine.io_timeout must be positive")
	}
	if c.Submission.MaxRetries < 0 {
		return fmt.Errorf("submission.max_retries cannot be negative")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// PostgresDSN returns the configured DSN or builds one from parts
func (c *Config) PostgresDSN() string {
	db := c.Database
	if db.DSN != "" {
		return db.DSN
	}
	if db.InstanceConnectionName != "" {
		// Cloud Run with Cloud SQL connects over the unix socket
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			db.InstanceConnectionName, db.User, db.Password, db.Name)
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		db.Host, db.User, db.Password, db.Name, db.Port)
}

// SampleConfig is written by `orderbot init`
const SampleConfig = `# orderbot configuration

[server]
port = "8080"
environment = "development"
validate_signature = false
default_tenant = "burger-barn"
admin_key = "change-me"

[log]
level = "debug"
format = "console"

[twilio]
account_sid = "ACxxxxxxxxxxxxxxxx"
auth_token = "your-auth-token"
whatsapp_from = "whatsapp:+14155238886"

[sessions]
backend = "memory"

[engine]
max_quantity = 20
page_size = 9

[submission]
base_url = "https://orders.example.com"
api_key = "your-api-key"

[seed]
file = "seed.toml"
`

// InitConfig writes a sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}
	return os.WriteFile(configPath, []byte(SampleConfig), 0644)
}
