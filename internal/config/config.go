package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	RatePerMinute   int    `mapstructure:"rate_limit_per_min"`
	Store           string `mapstructure:"store"` // "mongo" or "memory"
}

func (a AppCfg) PortString() string { return fmt.Sprintf("%d", a.Port) }

type MongoCfg struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSCfg struct {
	URL            string `mapstructure:"url"`
	ConnectSeconds int    `mapstructure:"connect_seconds"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
}

type JWTCfg struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type ProfilesCfg struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Config struct {
	App      AppCfg      `mapstructure:"app"`
	Mongo    MongoCfg    `mapstructure:"mongo"`
	Redis    RedisCfg    `mapstructure:"redis"`
	NATS     NATSCfg     `mapstructure:"nats"`
	Kafka    KafkaCfg    `mapstructure:"kafka"`
	JWT      JWTCfg      `mapstructure:"jwt"`
	Profiles ProfilesCfg `mapstructure:"profiles"`
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownSeconds) * time.Second
}

func (c *Config) MemoryMode() bool { return c.App.Store == "memory" }

// Load reads config.yaml (optional) and applies APP_-prefixed environment
// overrides, e.g. APP_MONGO_URI, APP_APP_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8084)
	v.SetDefault("app.shutdown_seconds", 10)
	v.SetDefault("app.rate_limit_per_min", 120)
	v.SetDefault("app.store", "mongo")
	v.SetDefault("mongo.db", "conversations")
	v.SetDefault("nats.connect_seconds", 30)
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("profiles.timeout_seconds", 5)

	// a missing config file is fine, a broken one is not
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}
	if cfg.App.Store != "mongo" && cfg.App.Store != "memory" {
		return fmt.Errorf("app.store must be mongo or memory, got %q", cfg.App.Store)
	}
	if cfg.MemoryMode() {
		// memory mode needs no external infrastructure
		return nil
	}
	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url missing")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}
