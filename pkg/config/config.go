package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the trading client
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Orders   OrdersConfig   `mapstructure:"orders"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type AppConfig struct {
	Port string `mapstructure:"port"` // HTTP read API listen address
	Env  string `mapstructure:"env"`  // e.g., "local", "prod"
}

type StreamConfig struct {
	URL              string   `mapstructure:"url"`
	Symbols          []string `mapstructure:"symbols"`
	Periods          []int64  `mapstructure:"periods"` // seconds
	VolumeMode       string   `mapstructure:"volume_mode"`
	ReconnectDelayMs int      `mapstructure:"reconnect_delay_ms"`
}

type OrdersConfig struct {
	URL         string  `mapstructure:"url"`
	DealDelayMs int     `mapstructure:"deal_delay_ms"` // min gap between submissions
	Demo        bool    `mapstructure:"demo"`
	MinAmount   float64 `mapstructure:"min_amount"`
	MaxAmount   float64 `mapstructure:"max_amount"`
}

type TerminalConfig struct {
	Addr string `mapstructure:"addr"` // local websocket endpoint for the terminal
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first (if present)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("stream.url", "wss://ws.binomo.com/")
	v.SetDefault("stream.symbols", []string{"ZCRYIDX"})
	v.SetDefault("stream.periods", []int64{60})
	v.SetDefault("stream.volume_mode", "ticks")
	v.SetDefault("stream.reconnect_delay_ms", 1000)

	v.SetDefault("orders.url", "wss://as.binomo.com/")
	v.SetDefault("orders.deal_delay_ms", 1500)
	v.SetDefault("orders.demo", true)
	v.SetDefault("orders.min_amount", 1.0)
	v.SetDefault("orders.max_amount", 1000.0)

	v.SetDefault("terminal.addr", ":8093")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "closed_bars")

	// Map dot-notation keys to underscored env vars (e.g. "stream.url" -> STREAM_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "stream.url", "stream.symbols", "stream.periods", "stream.volume_mode", "stream.reconnect_delay_ms")
	bindEnv(v, "orders.url", "orders.deal_delay_ms", "orders.demo", "orders.min_amount", "orders.max_amount")
	bindEnv(v, "terminal.addr")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Orders.DealDelayMs < 0 {
		return nil, fmt.Errorf("orders.deal_delay_ms cannot be negative")
	}
	if cfg.Orders.MinAmount <= 0 || cfg.Orders.MaxAmount < cfg.Orders.MinAmount {
		return nil, fmt.Errorf("orders amount limits invalid: min %v max %v", cfg.Orders.MinAmount, cfg.Orders.MaxAmount)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	switch cfg.Stream.VolumeMode {
	case "none", "ticks", "weighted":
	default:
		return nil, fmt.Errorf("unknown stream.volume_mode %q", cfg.Stream.VolumeMode)
	}

	return &cfg, nil
}

// NewLogger builds the application logger for the configured environment.
func NewLogger(app AppConfig) (*zap.Logger, error) {
	if app.Env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
