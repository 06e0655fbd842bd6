// Package config loads ReceiptGate's configuration: a TOML file of
// defaults, then RECEIPTGATE_* environment variables layered on top (spec
// §6.4), in the teacher's toml.Unmarshal-onto-defaults style.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Instance InstanceConfig `toml:"instance"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	URL                string `toml:"url"`
	AutoMigrateOnStart bool   `toml:"auto_migrate_on_startup"`
}

type AuthConfig struct {
	APIKey           string `toml:"api_key"`
	AllowInsecureDev bool   `toml:"allow_insecure_dev"`
}

type LedgerConfig struct {
	TenantID            string `toml:"tenant_id"`
	ReceiptBodyMaxBytes int    `toml:"receipt_body_max_bytes"`
	EnableGraphLayer    bool   `toml:"enable_graph_layer"`
	EnableSemanticLayer bool   `toml:"enable_semantic_layer"`
}

type InstanceConfig struct {
	ID string `toml:"id"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			URL:                "sqlite:///data/receiptgate.db",
			AutoMigrateOnStart: false,
		},
		Auth: AuthConfig{
			AllowInsecureDev: false,
		},
		Ledger: LedgerConfig{
			TenantID:            "default",
			ReceiptBodyMaxBytes: 262144,
			EnableGraphLayer:    false,
			EnableSemanticLayer: false,
		},
		Instance: InstanceConfig{
			ID: "local",
		},
	}
}

// Load reads path (if it exists) onto DefaultConfig, then applies
// RECEIPTGATE_* environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the RECEIPTGATE_* variables from spec §6.4 onto cfg.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("RECEIPTGATE_DATABASE_URL"); ok {
		cfg.Database.URL = v
	}
	if v, ok := os.LookupEnv("RECEIPTGATE_API_KEY"); ok {
		cfg.Auth.APIKey = v
	}
	if v, ok := boolEnv("RECEIPTGATE_ALLOW_INSECURE_DEV"); ok {
		cfg.Auth.AllowInsecureDev = v
	}
	if v, ok := boolEnv("RECEIPTGATE_AUTO_MIGRATE_ON_STARTUP"); ok {
		cfg.Database.AutoMigrateOnStart = v
	}
	if v, ok := intEnv("RECEIPTGATE_RECEIPT_BODY_MAX_BYTES"); ok {
		cfg.Ledger.ReceiptBodyMaxBytes = v
	}
	if v, ok := boolEnv("RECEIPTGATE_ENABLE_GRAPH_LAYER"); ok {
		cfg.Ledger.EnableGraphLayer = v
	}
	if v, ok := boolEnv("RECEIPTGATE_ENABLE_SEMANTIC_LAYER"); ok {
		cfg.Ledger.EnableSemanticLayer = v
	}
	if v, ok := os.LookupEnv("RECEIPTGATE_TENANT_ID"); ok {
		cfg.Ledger.TenantID = v
	}
}

// Validate enforces spec §6.3's startup gate: production startup fails if
// no API key is set and the insecure flag is not enabled.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if !c.Auth.AllowInsecureDev && c.Auth.APIKey == "" {
		return fmt.Errorf("config: auth.api_key is required unless allow_insecure_dev is set")
	}
	if c.Ledger.ReceiptBodyMaxBytes <= 0 {
		return fmt.Errorf("config: ledger.receipt_body_max_bytes must be positive")
	}
	return nil
}

func boolEnv(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func intEnv(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
