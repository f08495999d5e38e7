package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full process configuration. Values come from defaults, then an
// optional TOML file named by CREDITS_CONFIG_FILE, then environment variables.
type Config struct {
	Server        Server              `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Redis         RedisConfig         `toml:"redis"`
	Kafka         KafkaConfig         `toml:"kafka"`
	UserDirectory UserDirectoryConfig `toml:"user_directory"`
	Credits       CreditsConfig       `toml:"credits"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string   `toml:"addr"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	// AdminToken guards /v1/admin. Admin routes are not mounted when empty.
	AdminToken string `toml:"admin_token"`
}

// DatabaseConfig selects the ledger store. An empty URL keeps the ledger in memory.
type DatabaseConfig struct {
	URL             string   `toml:"url"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	AutoMigrate     bool     `toml:"auto_migrate"`
}

// RedisConfig configures the lock and cache backend. An empty URL disables Redis.
type RedisConfig struct {
	URL          string   `toml:"url"`
	PoolSize     int      `toml:"pool_size"`
	MinIdleConns int      `toml:"min_idle_conns"`
	DialTimeout  Duration `toml:"dial_timeout"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// KafkaConfig configures event delivery. With no brokers events are only logged.
type KafkaConfig struct {
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"client_id"`
	TopicPrefix       string   `toml:"topic_prefix"`
	PublishTimeout    Duration `toml:"publish_timeout"`
	CreateTopics      bool     `toml:"create_topics"`
	Partitions        int32    `toml:"partitions"`
	ReplicationFactor int16    `toml:"replication_factor"`
}

// UserDirectoryConfig points at the user service. An empty BaseURL means every
// user is accepted and subscription lookups use the fallback period.
type UserDirectoryConfig struct {
	BaseURL  string   `toml:"base_url"`
	Timeout  Duration `toml:"timeout"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// CreditsConfig tunes the ledger engine and its scheduled jobs.
type CreditsConfig struct {
	DefaultSubscriptionDays int      `toml:"default_subscription_days"`
	ExpirationInterval      Duration `toml:"expiration_interval"`
	ExpirationBatchSize     int      `toml:"expiration_batch_size"`
	ExpiringSoonDays        int      `toml:"expiring_soon_days"`
	LockTTL                 Duration `toml:"lock_ttl"`
	WorkerEnabled           bool     `toml:"worker_enabled"`
}

// Duration decodes TOML strings such as "30s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			LogLevel:        "info",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{5 * time.Minute},
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration{5 * time.Second},
			ReadTimeout:  Duration{3 * time.Second},
			WriteTimeout: Duration{3 * time.Second},
		},
		Kafka: KafkaConfig{
			ClientID:          "credits",
			PublishTimeout:    Duration{5 * time.Second},
			CreateTopics:      true,
			Partitions:        3,
			ReplicationFactor: 1,
		},
		UserDirectory: UserDirectoryConfig{
			Timeout:  Duration{2 * time.Second},
			CacheTTL: Duration{5 * time.Minute},
		},
		Credits: CreditsConfig{
			DefaultSubscriptionDays: 30,
			ExpirationInterval:      Duration{24 * time.Hour},
			ExpirationBatchSize:     500,
			ExpiringSoonDays:        7,
			LockTTL:                 Duration{10 * time.Minute},
			WorkerEnabled:           true,
		},
	}
}

// FromEnv builds the config so main stays lean.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if path := getenv("CREDITS_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	env := envReader{getenv: getenv}

	env.str("CREDITS_ADDR", &cfg.Server.Addr)
	env.str("CREDITS_LOG_LEVEL", &cfg.Server.LogLevel)
	env.duration("CREDITS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.str("CREDITS_ADMIN_TOKEN", &cfg.Server.AdminToken)

	env.str("DATABASE_URL", &cfg.Database.URL)
	env.integer("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	env.integer("DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	env.boolean("DATABASE_AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	env.str("REDIS_URL", &cfg.Redis.URL)
	env.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	if brokers := getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	env.str("KAFKA_CLIENT_ID", &cfg.Kafka.ClientID)
	env.str("KAFKA_TOPIC_PREFIX", &cfg.Kafka.TopicPrefix)
	env.boolean("KAFKA_CREATE_TOPICS", &cfg.Kafka.CreateTopics)

	env.str("USER_DIRECTORY_URL", &cfg.UserDirectory.BaseURL)
	env.duration("USER_DIRECTORY_TIMEOUT", &cfg.UserDirectory.Timeout)
	env.duration("USER_DIRECTORY_CACHE_TTL", &cfg.UserDirectory.CacheTTL)

	env.integer("CREDITS_DEFAULT_SUBSCRIPTION_DAYS", &cfg.Credits.DefaultSubscriptionDays)
	env.duration("CREDITS_EXPIRATION_INTERVAL", &cfg.Credits.ExpirationInterval)
	env.integer("CREDITS_EXPIRATION_BATCH_SIZE", &cfg.Credits.ExpirationBatchSize)
	env.integer("CREDITS_EXPIRING_SOON_DAYS", &cfg.Credits.ExpiringSoonDays)
	env.duration("CREDITS_LOCK_TTL", &cfg.Credits.LockTTL)
	env.boolean("CREDITS_WORKER_ENABLED", &cfg.Credits.WorkerEnabled)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// envReader applies an override only when the variable is set and keeps the
// first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (r *envReader) str(key string, dst *string) {
	if v := r.getenv(key); v != "" {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v := r.getenv(key)
	if v == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (r *envReader) boolean(key string, dst *bool) {
	v := r.getenv(key)
	if v == "" || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *Duration) {
	v := r.getenv(key)
	if v == "" || r.err != nil {
		return
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
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
