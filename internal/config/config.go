package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates the settings of paramctl and embedding services.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Activity ActivityConfig `mapstructure:"activity"`
	Writes   WritesConfig   `mapstructure:"writes"`
	Log      LogConfig      `mapstructure:"log"`
	SeedFile string         `mapstructure:"seed_file"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity uint64        `mapstructure:"capacity"`
}

type ActivityConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
	// QueueSize > 0 delivers events through a bounded async queue.
	QueueSize int `mapstructure:"queue_size"`
}

type WritesConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File, when set, receives a JSON copy of every record.
	File string `mapstructure:"file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "params.db"},
		Cache:    CacheConfig{TTL: 300 * time.Second},
		Activity: ActivityConfig{Enabled: true, Channel: "parameters"},
		Writes:   WritesConfig{MaxRetries: 3},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from an optional file and environment variables.
// Environment variables use the prefix "PARAMS" and the dot character in keys
// is replaced by an underscore. For example, "database.dsn" becomes
// "PARAMS_DATABASE_DSN". Without an explicit path, params.yaml in the working
// directory is read when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("params")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("PARAMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describe(path), err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Writes.MaxRetries < 0 {
		return fmt.Errorf("config: writes.max_retries must not be negative")
	}
	if c.Activity.QueueSize < 0 {
		return fmt.Errorf("config: activity.queue_size must not be negative")
	}
	return nil
}

func describe(path string) string {
	if path == "" {
		return "params.yaml"
	}
	return path
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
