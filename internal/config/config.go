// Package config loads csvbrowse settings from an optional config file and
// CSVBROWSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/rowstream"
	"github.com/csvquery/csvbrowse/internal/server"
	"github.com/csvquery/csvbrowse/internal/store"
)

// Config aggregates configuration for the application.
// Each section is owned by the package that consumes it.
type Config struct {
	Server  server.HTTPConfig   `mapstructure:"server"`
	Storage store.Config        `mapstructure:"storage"`
	Limits  server.Limits       `mapstructure:"limits"`
	Cache   metacache.Config    `mapstructure:"cache"`
	Daemon  server.DaemonConfig `mapstructure:"daemon"`
	CSV     CSVConfig           `mapstructure:"csv"`
}

// CSVConfig controls how uploaded files are decoded.
type CSVConfig struct {
	Comma            string `mapstructure:"comma"`
	LazyQuotes       bool   `mapstructure:"lazy_quotes"`
	TrimLeadingSpace bool   `mapstructure:"trim_leading_space"`
}

// ReaderOptions converts the section into decoding options.
func (c CSVConfig) ReaderOptions() (rowstream.Options, error) {
	opts := rowstream.Options{
		LazyQuotes:       c.LazyQuotes,
		TrimLeadingSpace: c.TrimLeadingSpace,
	}
	if c.Comma != "" {
		if utf8.RuneCountInString(c.Comma) != 1 {
			return opts, fmt.Errorf("csv.comma must be a single character, got %q", c.Comma)
		}
		opts.Comma, _ = utf8.DecodeRuneInString(c.Comma)
		if opts.Comma == '"' || opts.Comma == '\r' || opts.Comma == '\n' || opts.Comma == utf8.RuneError {
			return opts, fmt.Errorf("csv.comma %q is not a valid separator", c.Comma)
		}
	}
	return opts, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server:  server.DefaultHTTPConfig(),
		Storage: store.Config{UploadDir: "uploads", MaxUploadBytes: store.DefaultMaxBytes},
		Limits:  server.DefaultLimits(),
		Cache:   metacache.Config{Capacity: 1024},
		Daemon:  server.DefaultDaemonConfig(),
		CSV:     CSVConfig{Comma: ","},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "CSVBROWSE" and the dot character
// in keys is replaced by an underscore. For example, "storage.upload_dir"
// becomes "CSVBROWSE_STORAGE_UPLOAD_DIR".
//
// With an empty path, config.yaml in the working directory is read when
// present. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CSVBROWSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.UploadDir == "" {
		errs = append(errs, errors.New("storage.upload_dir is required"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must be positive"))
	}
	l := c.Limits
	if l.DefaultPageSize < 1 || l.MaxPageSize < l.DefaultPageSize {
		errs = append(errs, fmt.Errorf("limits: need 1 <= default_page_size (%d) <= max_page_size (%d)", l.DefaultPageSize, l.MaxPageSize))
	}
	if l.DefaultSearchLimit < 1 || l.MaxSearchLimit < l.DefaultSearchLimit {
		errs = append(errs, fmt.Errorf("limits: need 1 <= default_search_limit (%d) <= max_search_limit (%d)", l.DefaultSearchLimit, l.MaxSearchLimit))
	}
	if _, err := c.CSV.ReaderOptions(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
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
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
