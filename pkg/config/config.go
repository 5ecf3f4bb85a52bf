package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OTel      OTelConfig      `mapstructure:"otel"`
	Admission AdmissionConfig `mapstructure:"admission"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings for ticket records
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
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
}

// JWTConfig holds signing settings for user access tokens and entry tokens
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	EntrySecret string `mapstructure:"entry_secret"`
	Issuer      string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// AdmissionConfig holds the waiting room, dispatcher and seat lock settings
type AdmissionConfig struct {
	// DefaultCapacity is the entry slot ceiling for events without an override
	DefaultCapacity int `mapstructure:"default_capacity"`
	// EntryTokenTTL bounds how long a promoted user may stay in checkout
	EntryTokenTTL time.Duration `mapstructure:"entry_token_ttl"`
	// SeatLockTTL bounds a provisional seat reservation
	SeatLockTTL time.Duration `mapstructure:"seat_lock_ttl"`
	// VisibilityTimeout is the idle time after which another dispatcher may
	// claim a pending waiting-log entry
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	// HeartbeatInterval is the push channel keep-alive period
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// DispatchInterval is the periodic re-scan cadence of the dispatcher
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	DispatchBatch    int           `mapstructure:"dispatch_batch"`
	// DispatcherConsumer names this instance in the consumer group; empty
	// derives it from the hostname
	DispatcherConsumer string `mapstructure:"dispatcher_consumer"`
	// SweepInterval is the expiry listener's fallback scan cadence
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// EstimatedWaitPerUser is used only for client-facing estimates
	EstimatedWaitPerUser time.Duration `mapstructure:"estimated_wait_per_user"`
	MaxSeatsPerSelect    int           `mapstructure:"max_seats_per_select"`
	// PushHistory is the number of push messages retained per user for replay
	PushHistory int64 `mapstructure:"push_history"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, env vars may carry everything
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

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
	v.SetDefault("APP_NAME", "booking-rush-gate")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "0s") // push streams are long-lived
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "gate_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 200)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 20)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "booking-rush-gate")
	v.SetDefault("KAFKA_TOPIC", "admission-events")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ENTRY_SECRET", "")
	v.SetDefault("JWT_ISSUER", "booking-rush-gate")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "booking-rush-gate")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Admission defaults
	v.SetDefault("ADMISSION_DEFAULT_CAPACITY", 500)
	v.SetDefault("ADMISSION_ENTRY_TOKEN_TTL", "10m")
	v.SetDefault("ADMISSION_SEAT_LOCK_TTL", "5m")
	v.SetDefault("ADMISSION_VISIBILITY_TIMEOUT", "30s")
	v.SetDefault("ADMISSION_HEARTBEAT_INTERVAL", "15s")
	v.SetDefault("ADMISSION_DISPATCH_INTERVAL", "1s")
	v.SetDefault("ADMISSION_DISPATCH_BATCH", 100)
	v.SetDefault("ADMISSION_SWEEP_INTERVAL", "30s")
	v.SetDefault("ADMISSION_ESTIMATED_WAIT_PER_USER", "3s")
	v.SetDefault("ADMISSION_MAX_SEATS_PER_SELECT", 10)
	v.SetDefault("ADMISSION_PUSH_HISTORY", 20)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

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
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.EntrySecret = v.GetString("JWT_ENTRY_SECRET")
	if cfg.JWT.EntrySecret == "" {
		cfg.JWT.EntrySecret = cfg.JWT.Secret
	}
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Admission
	cfg.Admission.DefaultCapacity = v.GetInt("ADMISSION_DEFAULT_CAPACITY")
	cfg.Admission.EntryTokenTTL = v.GetDuration("ADMISSION_ENTRY_TOKEN_TTL")
	cfg.Admission.SeatLockTTL = v.GetDuration("ADMISSION_SEAT_LOCK_TTL")
	cfg.Admission.VisibilityTimeout = v.GetDuration("ADMISSION_VISIBILITY_TIMEOUT")
	cfg.Admission.HeartbeatInterval = v.GetDuration("ADMISSION_HEARTBEAT_INTERVAL")
	cfg.Admission.DispatchInterval = v.GetDuration("ADMISSION_DISPATCH_INTERVAL")
	cfg.Admission.DispatchBatch = v.GetInt("ADMISSION_DISPATCH_BATCH")
	cfg.Admission.DispatcherConsumer = v.GetString("ADMISSION_DISPATCHER_CONSUMER")
	cfg.Admission.SweepInterval = v.GetDuration("ADMISSION_SWEEP_INTERVAL")
	cfg.Admission.EstimatedWaitPerUser = v.GetDuration("ADMISSION_ESTIMATED_WAIT_PER_USER")
	cfg.Admission.MaxSeatsPerSelect = v.GetInt("ADMISSION_MAX_SEATS_PER_SELECT")
	cfg.Admission.PushHistory = v.GetInt64("ADMISSION_PUSH_HISTORY")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
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

	if c.App.Environment == "production" && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when kafka is enabled")
	}

	return c.Admission.Validate()
}

// Validate checks the admission pipeline settings
func (a *AdmissionConfig) Validate() error {
	if a.DefaultCapacity <= 0 {
		return fmt.Errorf("ADMISSION_DEFAULT_CAPACITY must be positive, got %d", a.DefaultCapacity)
	}
	if a.EntryTokenTTL <= 0 {
		return fmt.Errorf("ADMISSION_ENTRY_TOKEN_TTL must be positive")
	}
	if a.SeatLockTTL <= 0 {
		return fmt.Errorf("ADMISSION_SEAT_LOCK_TTL must be positive")
	}
	// a seat lock outliving the entry slot would block seats after the holder lost checkout access
	if a.SeatLockTTL > a.EntryTokenTTL {
		return fmt.Errorf("ADMISSION_SEAT_LOCK_TTL (%v) must not exceed ADMISSION_ENTRY_TOKEN_TTL (%v)", a.SeatLockTTL, a.EntryTokenTTL)
	}
	if a.VisibilityTimeout <= 0 {
		return fmt.Errorf("ADMISSION_VISIBILITY_TIMEOUT must be positive")
	}
	if a.HeartbeatInterval <= 0 {
		return fmt.Errorf("ADMISSION_HEARTBEAT_INTERVAL must be positive")
	}
	if a.DispatchInterval <= 0 {
		return fmt.Errorf("ADMISSION_DISPATCH_INTERVAL must be positive")
	}
	if a.DispatchBatch <= 0 {
		return fmt.Errorf("ADMISSION_DISPATCH_BATCH must be positive")
	}
	if a.MaxSeatsPerSelect <= 0 {
		return fmt.Errorf("ADMISSION_MAX_SEATS_PER_SELECT must be positive")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
