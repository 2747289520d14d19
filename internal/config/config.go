// Package config loads docsync settings from a YAML file, DOCSYNC_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/docsync/internal/channel"
)

// EnvPrefix prefixes every environment variable, e.g. DOCSYNC_STORE_DSN.
const EnvPrefix = "DOCSYNC"

// Config is the full runtime configuration of a docsync node.
type Config struct {
	Store   StoreConfig
	HTTP    HTTPConfig
	Reactor ReactorConfig
	Channel ChannelConfig
	Indexer IndexerConfig
	Cursors CursorsConfig
}

type StoreConfig struct {
	Driver string // sqlite3 or pgx
	DSN    string
}

type HTTPConfig struct {
	Addr string
}

type ReactorConfig struct {
	// Name identifies this replica to internal channels and in logs.
	Name string
}

// ChannelConfig holds the defaults applied to every request channel.
type ChannelConfig struct {
	PollInterval    time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MaxFailures     int
	OutboxDebounce  time.Duration
	OutboxMaxQueued int
}

// Request returns the request channel template built from these settings.
func (c ChannelConfig) Request() channel.RequestConfig {
	return channel.RequestConfig{
		RetryBaseDelay:  c.RetryBaseDelay,
		RetryMaxDelay:   c.RetryMaxDelay,
		MaxFailures:     c.MaxFailures,
		OutboxDebounce:  c.OutboxDebounce,
		OutboxMaxQueued: c.OutboxMaxQueued,
	}
}

type IndexerConfig struct {
	PageSize int
}

type CursorsConfig struct {
	// RedisURL selects Redis for cursor storage. Empty keeps cursors in the
	// SQL store.
	RedisURL string
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "docsync.db")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("reactor.name", "docsync")
	v.SetDefault("channel.poll_interval", 2*time.Second)
	v.SetDefault("channel.retry_base_delay", time.Second)
	v.SetDefault("channel.retry_max_delay", 5*time.Minute)
	v.SetDefault("channel.max_failures", 5)
	v.SetDefault("channel.outbox_debounce", 500*time.Millisecond)
	v.SetDefault("channel.outbox_max_queued", 25)
	v.SetDefault("indexer.page_size", 100)
	v.SetDefault("cursors.redis_url", "")
}

// New returns a viper instance wired for docsync: defaults, environment
// lookup and, when path is non-empty, the given config file.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads the config file (if any) and decodes the result.
func Load(path string) (Config, error) {
	v := New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Store: StoreConfig{
			Driver: v.GetString("store.driver"),
			DSN:    v.GetString("store.dsn"),
		},
		HTTP:    HTTPConfig{Addr: v.GetString("http.addr")},
		Reactor: ReactorConfig{Name: v.GetString("reactor.name")},
		Channel: ChannelConfig{
			PollInterval:    v.GetDuration("channel.poll_interval"),
			RetryBaseDelay:  v.GetDuration("channel.retry_base_delay"),
			RetryMaxDelay:   v.GetDuration("channel.retry_max_delay"),
			MaxFailures:     v.GetInt("channel.max_failures"),
			OutboxDebounce:  v.GetDuration("channel.outbox_debounce"),
			OutboxMaxQueued: v.GetInt("channel.outbox_max_queued"),
		},
		Indexer: IndexerConfig{PageSize: v.GetInt("indexer.page_size")},
		Cursors: CursorsConfig{RedisURL: v.GetString("cursors.redis_url")},
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn: required"))
	}
	if c.Reactor.Name == "" {
		errs = append(errs, errors.New("reactor.name: required"))
	}
	if c.Channel.PollInterval <= 0 {
		errs = append(errs, errors.New("channel.poll_interval: must be positive"))
	}
	if c.Channel.RetryBaseDelay <= 0 || c.Channel.RetryMaxDelay < c.Channel.RetryBaseDelay {
		errs = append(errs, errors.New("channel.retry_max_delay: must be at least channel.retry_base_delay"))
	}
	if c.Channel.MaxFailures < 1 {
		errs = append(errs, errors.New("channel.max_failures: must be at least 1"))
	}
	if c.Channel.OutboxMaxQueued < 1 {
		errs = append(errs, errors.New("channel.outbox_max_queued: must be at least 1"))
	}
	if c.Indexer.PageSize < 1 {
		errs = append(errs, errors.New("indexer.page_size: must be at least 1"))
	}
	return errors.Join(errs...)
}
