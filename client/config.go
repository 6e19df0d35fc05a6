package client

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/schema"
)

// Config is the file-based client configuration.
type Config struct {
	Driver string `yaml:"driver" validate:"required,oneof=mysql postgres sqlite"`
	DSN    string `yaml:"dsn" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`

	MaxConcurrentTx int64         `yaml:"max_concurrent_tx" validate:"gte=0"`
	TxMaxWait       time.Duration `yaml:"tx_max_wait" validate:"gte=0"`

	Debug         bool          `yaml:"debug"`
	SlowThreshold time.Duration `yaml:"slow_threshold" validate:"gte=0"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("client: read config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses and validates YAML configuration bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("client: parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("client: invalid config: %w", err)
	}
	return &cfg, nil
}

// Open opens the configured database and returns a client over it.
func (cfg *Config) Open(reg *schema.Registry, opts ...Option) (*Client, error) {
	drv, err := dsql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("client: open %s: %w", cfg.Driver, err)
	}
	db := drv.DB()
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	all := make([]Option, 0, len(opts)+4)
	if cfg.MaxConcurrentTx > 0 {
		all = append(all, MaxConcurrentTx(cfg.MaxConcurrentTx))
	}
	if cfg.TxMaxWait > 0 {
		all = append(all, TxMaxWait(cfg.TxMaxWait))
	}
	if cfg.Debug {
		all = append(all, Debug())
	}
	if cfg.SlowThreshold > 0 {
		all = append(all, SlowThreshold(cfg.SlowThreshold))
	}
	all = append(all, opts...)
	return NewClient(drv, reg, all...), nil
}
