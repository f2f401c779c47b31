package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/apiwallet/libs/config"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	SourceKey    = "key"
	SourceRandom = "random"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type KafkaTopics struct {
	WalletsAuthorized string
	WalletsRevoked    string
	Subaccounts       string
	DeadLetter        string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
	MaxAttempts   int
}

// Enabled reports whether any broker is configured. Without brokers the
// service runs with events disabled.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type WalletConfig struct {
	UnnamedLimit       int
	NamedLimit         int
	PerSubaccountLimit int
	DefaultValidity    time.Duration
	AddressSource      string
}

type Config struct {
	App       base.AppConfig
	Storage   string
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Wallet    WalletConfig
	JWTSecret string
}

func Load() (*Config, error) {
	path := os.Getenv(base.PathEnvVar)
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("storage", StorageMemory)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group", "api-wallet-service")
	v.SetDefault("kafka.topics.wallets_authorized", "api_wallets.authorized")
	v.SetDefault("kafka.topics.wallets_revoked", "api_wallets.revoked")
	v.SetDefault("kafka.topics.subaccounts", "accounts.subaccounts")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("wallet.limits.unnamed", 1)
	v.SetDefault("wallet.limits.named", 3)
	v.SetDefault("wallet.limits.per_subaccount", 2)
	v.SetDefault("wallet.default_validity", "0s")
	v.SetDefault("wallet.address_source", SourceKey)
	v.SetDefault("jwt_secret", "")

	cfg := &Config{
		App:     *appCfg,
		Storage: strings.ToLower(envString("STORAGE", v.GetString("storage"))),
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "api_wallets")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "apiw")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "apiw")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Prefix:   envString("REDIS_PREFIX", "apiw:prefs:"),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				WalletsAuthorized: envString("KAFKA_WALLETS_AUTHORIZED_TOPIC", v.GetString("kafka.topics.wallets_authorized")),
				WalletsRevoked:    envString("KAFKA_WALLETS_REVOKED_TOPIC", v.GetString("kafka.topics.wallets_revoked")),
				Subaccounts:       envString("KAFKA_SUBACCOUNTS_TOPIC", v.GetString("kafka.topics.subaccounts")),
				DeadLetter:        envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
			MaxAttempts: envInt("KAFKA_MAX_ATTEMPTS", v.GetInt("kafka.max_attempts")),
		},
		Wallet: WalletConfig{
			UnnamedLimit:       envInt("WALLET_UNNAMED_LIMIT", v.GetInt("wallet.limits.unnamed")),
			NamedLimit:         envInt("WALLET_NAMED_LIMIT", v.GetInt("wallet.limits.named")),
			PerSubaccountLimit: envInt("WALLET_PER_SUBACCOUNT_LIMIT", v.GetInt("wallet.limits.per_subaccount")),
			DefaultValidity:    envDuration("WALLET_DEFAULT_VALIDITY", v.GetDuration("wallet.default_validity")),
			AddressSource:      strings.ToLower(envString("WALLET_ADDRESS_SOURCE", v.GetString("wallet.address_source"))),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%s_JWT_SECRET is required", base.EnvPrefix)
	}
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	switch c.Wallet.AddressSource {
	case SourceKey, SourceRandom:
	default:
		return fmt.Errorf("unknown address source %q", c.Wallet.AddressSource)
	}
	if c.Wallet.UnnamedLimit < 0 || c.Wallet.NamedLimit < 0 || c.Wallet.PerSubaccountLimit < 0 {
		return fmt.Errorf("wallet limits must be non-negative")
	}
	if c.Wallet.DefaultValidity < 0 {
		return fmt.Errorf("wallet default validity must be non-negative")
	}
	if c.Kafka.Enabled() {
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.WalletsAuthorized == "" || c.Kafka.Topics.WalletsRevoked == "" || c.Kafka.Topics.Subaccounts == "" {
			return fmt.Errorf("kafka topics required")
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(base.EnvPrefix + "_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envString(key, "")); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(key, "")); err == nil {
		return d
	}
	return def
}

func envCSV(key string, def []string) []string {
	raw := envString(key, "")
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
