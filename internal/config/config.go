package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/Industry-Academic-SW-Capstone/trading-engine/libs/config"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaTopics struct {
	MarketFills     string
	Executions      string
	OrdersAccepted  string
	OrdersCancelled string
	DLQ             string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type SweeperConfig struct {
	Interval    time.Duration
	OrderMaxAge time.Duration
}

type Config struct {
	App     base.AppConfig
	DB      DBConfig
	Kafka   KafkaConfig
	Sweeper SweeperConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("TRADE_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("TRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("TRADE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "trading-engine")
	v.SetDefault("kafka.topics.market_fills", "market.fills")
	v.SetDefault("kafka.topics.executions", "executions.completed")
	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.dlq", "trading-engine.dlq")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "trading")
	v.SetDefault("postgres.user", "trading")
	v.SetDefault("postgres.password", "trading")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.order_max_age", "24h")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", v.GetString("postgres.host")),
			Port:     envInt("DB_PORT", v.GetInt("postgres.port")),
			Name:     envString("DB_NAME", v.GetString("postgres.database")),
			User:     envString("DB_USER", v.GetString("postgres.user")),
			Password: envString("DB_PASSWORD", v.GetString("postgres.password")),
			SSLMode:  envString("DB_SSLMODE", v.GetString("postgres.sslmode")),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				MarketFills:     envString("KAFKA_MARKET_FILLS_TOPIC", v.GetString("kafka.topics.market_fills")),
				Executions:      envString("KAFKA_EXECUTIONS_TOPIC", v.GetString("kafka.topics.executions")),
				OrdersAccepted:  envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled: envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				DLQ:             envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dlq")),
			},
		},
		Sweeper: SweeperConfig{
			Interval:    envDuration("SWEEPER_INTERVAL", v.GetDuration("sweeper.interval")),
			OrderMaxAge: envDuration("SWEEPER_ORDER_MAX_AGE", v.GetDuration("sweeper.order_max_age")),
		},
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Topics.MarketFills == "" || cfg.Kafka.Topics.Executions == "" {
		return nil, fmt.Errorf("kafka topics required")
	}

	return cfg, nil
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func envString(key, def string) string {
	if v := os.Getenv("TRADE_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	for _, k := range []string{"TRADE_" + key, key} {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, k := range []string{"TRADE_" + key, key} {
		if v := os.Getenv(k); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, part := range parts {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	for _, k := range []string{"TRADE_" + key, key} {
		if v := os.Getenv(k); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
	}
	return def
}
