package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DBConfig struct {
	Provider string `mapstructure:"provider"` // "memory", "sqlite", "postgres"
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
}

type CatalogConfig struct {
	Framework string `mapstructure:"framework"`
}

type SearchConfig struct {
	PageSize    int           `mapstructure:"page_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
}

// HoldsConfig carries the service account used against every partner's
// holds endpoint.
type HoldsConfig struct {
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	RequestLocation string        `mapstructure:"request_location"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type TransportConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type SIP2Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Location string `mapstructure:"location"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`
}

func (s SIP2Config) Enabled() bool { return s.Host != "" && s.Port > 0 }

type IndexConfig struct {
	Path string `mapstructure:"path"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	From string `mapstructure:"from"`
}

// Config is the process-wide configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Search    SearchConfig    `mapstructure:"search"`
	Holds     HoldsConfig     `mapstructure:"holds"`
	Transport TransportConfig `mapstructure:"transport"`
	SIP2      SIP2Config      `mapstructure:"sip2"`
	Index     IndexConfig     `mapstructure:"index"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Targets   []Target        `mapstructure:"targets"`

	table *TargetTable
}

// TargetTable returns the immutable target table built at load time.
func (c *Config) TargetTable() *TargetTable {
	return c.table
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8899")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.path", "illbroker.db")
	v.SetDefault("catalog.framework", "FA")
	v.SetDefault("search.page_size", 10)
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.max_parallel", 8)
	v.SetDefault("holds.request_location", "127.0.0.1")
	v.SetDefault("holds.timeout", 10*time.Second)
	v.SetDefault("transport.rate_per_second", 0)
	v.SetDefault("transport.burst", 1)
	v.SetDefault("sip2.location", "ILL")
}

// NewViper builds a viper instance with the ILLBROKER_ environment prefix and
// defaults applied. If path is non-empty the file is read as well.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("ILLBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if c.Search.PageSize <= 0 {
		c.Search.PageSize = 10
	}
	if c.Search.MaxParallel <= 0 {
		c.Search.MaxParallel = 1
	}
	if c.Holds.RequestLocation == "" {
		c.Holds.RequestLocation = "127.0.0.1"
	}
	table, err := NewTargetTable(c.Targets)
	if err != nil {
		return err
	}
	c.table = table
	return nil
}
