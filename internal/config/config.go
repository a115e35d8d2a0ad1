package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// AsynqDB keeps the task queue separate from cache/transport keys.
		AsynqDB int `yaml:"asynq_db"`
	} `yaml:"redis"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // minutes
	} `yaml:"jwt"`

	Push struct {
		RelayURL string `yaml:"relay_url"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"push"`

	RateLimits struct {
		// Requests allowed per window, per actor.
		NotificationsPerMinute int `yaml:"notifications_per_minute"`
		MessagesPerMinute      int `yaml:"messages_per_minute"`
	} `yaml:"rate_limits"`

	Moderation struct {
		BannedPhrases     []string `yaml:"banned_phrases"`
		ScreenContactInfo bool     `yaml:"screen_contact_info"`
	} `yaml:"moderation"`

	Workers struct {
		AsynqConcurrency int `yaml:"asynq_concurrency"`
	} `yaml:"workers"`
}

var AppConfig *Config

func LoadConfig() {
	var cfg Config

	dbURL := os.Getenv("DATABASE_URL")

	if dbURL == "" {
		configPath := os.Getenv("CONFIG_PATH")
		if configPath == "" {
			configPath = "config/config.yaml"
		}

		f, err := os.Open(configPath)
		if err != nil {
			log.Fatalf("Failed to open config file at %s: %v", configPath, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			log.Fatalf("Failed to parse config file at %s: %v", configPath, err)
		}

		applyDefaults(&cfg)
		AppConfig = &cfg
		return
	}

	// environment-driven mode, used by CI and container deployments
	cfg.Database.DSN = dbURL
	cfg.Server.Env = os.Getenv("SERVER_ENV")
	cfg.Server.Port, _ = strconv.Atoi(os.Getenv("SERVER_PORT"))
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	cfg.JWT.TTL = 60

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	cfg.Redis.AsynqDB = cfg.Redis.DB + 1

	cfg.Push.RelayURL = os.Getenv("PUSH_RELAY_URL")
	cfg.Push.APIKey = os.Getenv("PUSH_RELAY_API_KEY")

	applyDefaults(&cfg)
	AppConfig = &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.RateLimits.NotificationsPerMinute == 0 {
		cfg.RateLimits.NotificationsPerMinute = 30
	}
	if cfg.RateLimits.MessagesPerMinute == 0 {
		cfg.RateLimits.MessagesPerMinute = 60
	}
	if cfg.Workers.AsynqConcurrency == 0 {
		cfg.Workers.AsynqConcurrency = 10
	}
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
