package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web       WebConfig       `yaml:"web"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Consensus ConsensusConfig `yaml:"consensus"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	// Auth is the API password: either plaintext or a bcrypt hash
	// (recognized by its $2 prefix). Empty disables auth.
	Auth string `yaml:"auth"`
}

type NATSConfig struct {
	Port int `yaml:"port"`
}

type StoreConfig struct {
	// Path of the sqlite catalog cache. Empty disables caching.
	Path string `yaml:"path"`
}

type CatalogConfig struct {
	// FallbackPath points to a YAML list of Bedrock inference profiles used
	// when profile discovery fails. Empty uses the built-in catalog.
	FallbackPath string   `yaml:"fallback_path"`
	CacheTTL     Duration `yaml:"cache_ttl"`
}

// Duration parses Go duration strings ("90s", "5m") from YAML, which
// yaml.v3 does not do for time.Duration itself.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type ConsensusConfig struct {
	RetryBudget     int `yaml:"retry_budget"`
	ChairmanRetries int `yaml:"chairman_retries"`
}

func defaults() Config {
	return Config{
		Web: WebConfig{
			Enabled: true,
			Port:    8000,
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/quorum.db",
		},
		Catalog: CatalogConfig{
			CacheTTL: Duration(5 * time.Minute),
		},
		Consensus: ConsensusConfig{
			RetryBudget:     3,
			ChairmanRetries: 5,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("QUORUM_CONFIG")
	if path == "" {
		path = "config/quorum.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUORUM_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("QUORUM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("QUORUM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("QUORUM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QUORUM_CATALOG_FALLBACK"); v != "" {
		cfg.Catalog.FallbackPath = v
	}
}
