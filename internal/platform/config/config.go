package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration. Empty URLs select the in-memory
// implementation of that dependency.
type Config struct {
	Server   Server
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Pipeline Pipeline
	Ingest   Ingest
	Panic    Panic
	SMS      SMSConfig
	Logging  Logging
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	ShutdownTimeout time.Duration
	// SeedFile is an optional YAML fixture of subjects and geofences loaded
	// at startup.
	SeedFile string
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
}

// RedisConfig holds connection settings for the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	LocationTopic string
	AlertTopic    string
	ConsumerGroup string
}

// Pipeline tunes the change-stream workers.
type Pipeline struct {
	BatchSize         int
	MaxCASAttempts    int
	PanicDirectNotify bool
}

// Ingest holds location validation thresholds and the producer throttle.
type Ingest struct {
	MaxSampleAge          time.Duration
	MaxAccuracyMeters     float64
	MinInterval           time.Duration
	MinDisplacementMeters float64
}

type Panic struct {
	RateLimitWindow time.Duration
}

type SMSConfig struct {
	GatewayURL    string
	APIKey        string
	SenderID      string
	RatePerSecond float64
	Timeout       time.Duration
}

type Logging struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	r := envReader{}
	cfg := Config{
		Server: Server{
			Addr:            r.str("KINWATCH_ADDR", ":8080"),
			JWTSigningKey:   r.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       r.str("JWT_ISSUER", "kinwatch"),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			SeedFile:        r.str("SEED_FILE", ""),
		},
		Postgres: PostgresConfig{
			URL:          r.str("DATABASE_URL", ""),
			MaxOpenConns: r.int("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       r.list("KAFKA_BROKERS"),
			LocationTopic: r.str("KAFKA_LOCATION_TOPIC", "kinwatch.location-inserted"),
			AlertTopic:    r.str("KAFKA_ALERT_TOPIC", "kinwatch.alert-inserted"),
			ConsumerGroup: r.str("KAFKA_CONSUMER_GROUP", "kinwatch-pipeline"),
		},
		Pipeline: Pipeline{
			BatchSize:         r.int("PIPELINE_BATCH_SIZE", 10),
			MaxCASAttempts:    r.int("PIPELINE_MAX_CAS_ATTEMPTS", 3),
			PanicDirectNotify: r.bool("PANIC_DIRECT_NOTIFY", false),
		},
		Ingest: Ingest{
			MaxSampleAge:          r.duration("LOCATION_MAX_SAMPLE_AGE", 5*time.Minute),
			MaxAccuracyMeters:     r.float("LOCATION_MAX_ACCURACY_M", 100),
			MinInterval:           r.duration("LOCATION_MIN_INTERVAL", 30*time.Second),
			MinDisplacementMeters: r.float("LOCATION_MIN_DISPLACEMENT_M", 50),
		},
		Panic: Panic{
			RateLimitWindow: r.duration("PANIC_RATE_LIMIT_WINDOW", time.Minute),
		},
		SMS: SMSConfig{
			GatewayURL:    r.str("SMS_GATEWAY_URL", ""),
			APIKey:        r.str("SMS_API_KEY", ""),
			SenderID:      r.str("SMS_SENDER_ID", "Kinwatch"),
			RatePerSecond: r.float("SMS_RATE_PER_SECOND", 5),
			Timeout:       r.duration("SMS_TIMEOUT", 10*time.Second),
		},
		Logging: Logging{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "json"),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Pipeline.BatchSize <= 0:
		return fmt.Errorf("PIPELINE_BATCH_SIZE must be positive")
	case c.Pipeline.MaxCASAttempts <= 0:
		return fmt.Errorf("PIPELINE_MAX_CAS_ATTEMPTS must be positive")
	case c.Ingest.MaxSampleAge <= 0:
		return fmt.Errorf("LOCATION_MAX_SAMPLE_AGE must be positive")
	case c.Ingest.MaxAccuracyMeters <= 0:
		return fmt.Errorf("LOCATION_MAX_ACCURACY_M must be positive")
	case c.Panic.RateLimitWindow <= 0:
		return fmt.Errorf("PANIC_RATE_LIMIT_WINDOW must be positive")
	case c.SMS.RatePerSecond <= 0:
		return fmt.Errorf("SMS_RATE_PER_SECOND must be positive")
	}
	return nil
}

// envReader keeps the first parse error so FromEnv reads as a flat table.
type envReader struct {
	err error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return f
}

func (r *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
