package zarrutils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable LoadConfig reads
const EnvPrefix = "ZARR_UTILS_"

// Config holds the settings shared by the zarr-utils commands. Values are
// layered: defaults, then the YAML config file, then the environment (a
// .env file in the working directory included), then command line flags.
type Config struct {
	// Format is "auto", "2" or "3"
	Format              string      `yaml:"format"`
	RequireConsolidated bool        `yaml:"require_consolidated"`
	DefaultUnits        string      `yaml:"default_units"`
	LogLevel            string      `yaml:"log_level"`
	Store               StoreConfig `yaml:"store"`
}

// StoreConfig is the store section of Config
type StoreConfig struct {
	Anonymous bool   `yaml:"anonymous"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	CacheSize int    `yaml:"cache_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Format:       "auto",
		DefaultUnits: DefaultUnits,
		LogLevel:     "warn",
		Store: StoreConfig{
			UseSSL: true,
		},
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment. Flags are applied afterwards by
// parsing a FlagSet populated with AddFlags.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// a missing .env is fine
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		raw := strings.TrimSpace(os.Getenv(EnvPrefix + name))
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = v
		return nil
	}

	str("FORMAT", &c.Format)
	str("DEFAULT_UNITS", &c.DefaultUnits)
	str("LOG_LEVEL", &c.LogLevel)
	str("REGION", &c.Store.Region)
	str("ENDPOINT", &c.Store.Endpoint)
	str("ACCESS_KEY", &c.Store.AccessKey)
	str("SECRET_KEY", &c.Store.SecretKey)
	if c.Store.Region == "" {
		c.Store.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}

	for name, dst := range map[string]*bool{
		"REQUIRE_CONSOLIDATED": &c.RequireConsolidated,
		"ANONYMOUS":            &c.Store.Anonymous,
		"USE_SSL":              &c.Store.UseSSL,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}

	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "CACHE_SIZE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%sCACHE_SIZE: %w", EnvPrefix, err)
		}
		c.Store.CacheSize = n
	}
	return nil
}

// AddFlags binds command line flags to c. Call after LoadConfig so parsed
// flags override file and environment values.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Format, "format", c.Format, `zarr format: "auto", "2" or "3"`)
	fs.BoolVar(&c.RequireConsolidated, "require-consolidated", c.RequireConsolidated, "treat missing consolidated metadata as fatal")
	fs.StringVar(&c.DefaultUnits, "default-units", c.DefaultUnits, "units value inserted by repair --add-missing-attrs")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&c.Store.Anonymous, "anonymous", c.Store.Anonymous, "access remote stores without credentials")
	fs.StringVar(&c.Store.Region, "region", c.Store.Region, "S3 region")
	fs.StringVar(&c.Store.Endpoint, "endpoint", c.Store.Endpoint, "S3-compatible endpoint (host:port)")
	fs.BoolVar(&c.Store.UseSSL, "use-ssl", c.Store.UseSSL, "use TLS for --endpoint")
	fs.IntVar(&c.Store.CacheSize, "cache-size", c.Store.CacheSize, "number of metadata payloads cached for remote stores (0 disables)")
}

// StoreOptions returns the options OpenStore takes
func (c *Config) StoreOptions() StoreOptions {
	return StoreOptions{
		Anonymous: c.Store.Anonymous,
		Region:    c.Store.Region,
		Endpoint:  c.Store.Endpoint,
		AccessKey: c.Store.AccessKey,
		SecretKey: c.Store.SecretKey,
		UseSSL:    c.Store.UseSSL,
		CacheSize: c.Store.CacheSize,
	}
}

// ZarrFormat parses the Format setting
func (c *Config) ZarrFormat() (Format, error) {
	return ParseFormat(c.Format)
}

// NewLogger returns a text logger writing to w at the configured level
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
