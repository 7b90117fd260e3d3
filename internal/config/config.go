package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Paystack struct {
		SecretKey      string `yaml:"secret_key"`
		BaseURL        string `yaml:"base_url"`
		CallbackURL    string `yaml:"callback_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"paystack"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Delivery struct {
		Fee       string `yaml:"fee"`
		FreeAbove string `yaml:"free_above"`
		Estimate  string `yaml:"estimate"`
	} `yaml:"delivery"`
	Telemetry struct {
		JaegerEndpoint string `yaml:"jaeger_endpoint"`
	} `yaml:"telemetry"`
	Notifier struct {
		Addr       string `yaml:"addr"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"notifier"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Paystack.SecretKey == "" {
		return nil, errors.New("paystack.secret_key is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka.brokers is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Paystack.BaseURL == "" {
		cfg.Paystack.BaseURL = "https://api.paystack.co"
	}
	if cfg.Paystack.TimeoutSeconds <= 0 {
		cfg.Paystack.TimeoutSeconds = 10
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "order_notifications"
	}
	if cfg.Delivery.Fee == "" {
		cfg.Delivery.Fee = "0"
	}
	if cfg.Delivery.FreeAbove == "" {
		cfg.Delivery.FreeAbove = "0"
	}
	if cfg.Delivery.Estimate == "" {
		cfg.Delivery.Estimate = "3-5 business days"
	}
	if cfg.Notifier.Addr == "" {
		cfg.Notifier.Addr = ":8084"
	}
	if cfg.Notifier.MaxRetries <= 0 {
		cfg.Notifier.MaxRetries = 3
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Paystack.SecretKey = v
	}
	if v := os.Getenv("PAYSTACK_BASE_URL"); v != "" {
		cfg.Paystack.BaseURL = v
	}
	if v := os.Getenv("PAYSTACK_CALLBACK_URL"); v != "" {
		cfg.Paystack.CallbackURL = v
	}
	if v := os.Getenv("PAYSTACK_TIMEOUT_SECONDS"); v != "" {
		cfg.Paystack.TimeoutSeconds = atoiOr(cfg.Paystack.TimeoutSeconds, v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("DELIVERY_FEE"); v != "" {
		cfg.Delivery.Fee = v
	}
	if v := os.Getenv("DELIVERY_FREE_ABOVE"); v != "" {
		cfg.Delivery.FreeAbove = v
	}
	if v := os.Getenv("DELIVERY_ESTIMATE"); v != "" {
		cfg.Delivery.Estimate = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Telemetry.JaegerEndpoint = v
	}
	if v := os.Getenv("NOTIFIER_ADDR"); v != "" {
		cfg.Notifier.Addr = v
	}
	if v := os.Getenv("NOTIFIER_MAX_RETRIES"); v != "" {
		cfg.Notifier.MaxRetries = atoiOr(cfg.Notifier.MaxRetries, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
