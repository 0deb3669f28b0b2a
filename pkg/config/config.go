package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Query    QueryConfig    `mapstructure:"query"`
	Presence PresenceConfig `mapstructure:"presence"`
	Console  ConsoleConfig  `mapstructure:"console"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
	PublicURL   string `mapstructure:"public_url"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ConsumerGroup     string   `mapstructure:"consumer_group"`
	ClientID          string   `mapstructure:"client_id"`
	ChangeTopic       string   `mapstructure:"change_topic"`
	NotificationTopic string   `mapstructure:"notification_topic"`
	DLQSuffix         string   `mapstructure:"dlq_suffix"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	ResetTokenTTL   time.Duration `mapstructure:"reset_token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// StripeConfig holds hosted checkout settings
type StripeConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	Currency   string `mapstructure:"currency"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

// QueryConfig holds client-side query cache policy
type QueryConfig struct {
	StaleTime  time.Duration `mapstructure:"stale_time"`
	GCTime     time.Duration `mapstructure:"gc_time"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// PresenceConfig holds presence channel settings
type PresenceConfig struct {
	Channel           string        `mapstructure:"channel"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ConsoleConfig holds per-session console lifecycle settings
type ConsoleConfig struct {
	IdleTTL             time.Duration `mapstructure:"idle_ttl"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SessionCheckPeriod  time.Duration `mapstructure:"session_check_period"`
	SessionRefreshAhead time.Duration `mapstructure:"session_refresh_ahead"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables may carry everything
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "desk-access-hub")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_PUBLIC_URL", "http://localhost:5173")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "0s") // SSE streams stay open
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "desk_hub")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "desk-hub-console")
	v.SetDefault("KAFKA_CLIENT_ID", "desk-hub-console")
	v.SetDefault("KAFKA_CHANGE_TOPIC", "hub.table-changes")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "hub.notifications")
	v.SetDefault("KAFKA_DLQ_SUFFIX", ".dlq")

	// JWT defaults
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", "168h") // 7 days
	v.SetDefault("JWT_RESET_TOKEN_TTL", "1h")
	v.SetDefault("JWT_ISSUER", "desk-access-hub")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "desk-hub-console")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Stripe defaults
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost:5173/billing?checkout=success")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost:5173/billing?checkout=cancel")

	// Query cache defaults
	v.SetDefault("QUERY_STALE_TIME", "5m")
	v.SetDefault("QUERY_GC_TIME", "10m")
	v.SetDefault("QUERY_MAX_RETRIES", 3)
	v.SetDefault("QUERY_RETRY_DELAY", "1s")

	// Presence defaults
	v.SetDefault("PRESENCE_CHANNEL", "online-users")
	v.SetDefault("PRESENCE_HEARTBEAT_INTERVAL", "30s")

	// Console defaults
	v.SetDefault("CONSOLE_IDLE_TTL", "30m")
	v.SetDefault("CONSOLE_SWEEP_INTERVAL", "1m")
	v.SetDefault("CONSOLE_SESSION_CHECK_PERIOD", "1m")
	v.SetDefault("CONSOLE_SESSION_REFRESH_AHEAD", "2m")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")
	cfg.App.PublicURL = v.GetString("APP_PUBLIC_URL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.ChangeTopic = v.GetString("KAFKA_CHANGE_TOPIC")
	cfg.Kafka.NotificationTopic = v.GetString("KAFKA_NOTIFICATION_TOPIC")
	cfg.Kafka.DLQSuffix = v.GetString("KAFKA_DLQ_SUFFIX")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TOKEN_TTL")
	cfg.JWT.ResetTokenTTL = v.GetDuration("JWT_RESET_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Stripe
	cfg.Stripe.SecretKey = v.GetString("STRIPE_SECRET_KEY")
	cfg.Stripe.Currency = v.GetString("STRIPE_CURRENCY")
	cfg.Stripe.SuccessURL = v.GetString("STRIPE_SUCCESS_URL")
	cfg.Stripe.CancelURL = v.GetString("STRIPE_CANCEL_URL")

	// Query
	cfg.Query.StaleTime = v.GetDuration("QUERY_STALE_TIME")
	cfg.Query.GCTime = v.GetDuration("QUERY_GC_TIME")
	cfg.Query.MaxRetries = v.GetInt("QUERY_MAX_RETRIES")
	cfg.Query.RetryDelay = v.GetDuration("QUERY_RETRY_DELAY")

	// Presence
	cfg.Presence.Channel = v.GetString("PRESENCE_CHANNEL")
	cfg.Presence.HeartbeatInterval = v.GetDuration("PRESENCE_HEARTBEAT_INTERVAL")

	// Console
	cfg.Console.IdleTTL = v.GetDuration("CONSOLE_IDLE_TTL")
	cfg.Console.SweepInterval = v.GetDuration("CONSOLE_SWEEP_INTERVAL")
	cfg.Console.SessionCheckPeriod = v.GetDuration("CONSOLE_SESSION_CHECK_PERIOD")
	cfg.Console.SessionRefreshAhead = v.GetDuration("CONSOLE_SESSION_REFRESH_AHEAD")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.App.Environment == "production" && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Query.StaleTime <= 0 || c.Query.GCTime <= 0 {
		return fmt.Errorf("query stale and gc times must be positive")
	}

	if c.Query.GCTime < c.Query.StaleTime {
		return fmt.Errorf("query gc time (%s) must not be shorter than stale time (%s)", c.Query.GCTime, c.Query.StaleTime)
	}

	if c.Query.MaxRetries < 0 {
		return fmt.Errorf("query max retries cannot be negative")
	}

	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence heartbeat interval must be positive")
	}

	return nil
}

// ValidateDatabase validates database configuration
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}
	return nil
}

// StripeEnabled reports whether hosted checkout can be used
func (c *Config) StripeEnabled() bool {
	return c.Stripe.SecretKey != ""
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
