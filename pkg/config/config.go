// Package config loads gateway configuration from defaults, an optional
// config file, CLIO_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Bronek/clio/pkg/dosguard"
	"github.com/Bronek/clio/pkg/ledgercache"
	"github.com/Bronek/clio/pkg/logging"
	"github.com/Bronek/clio/pkg/rpc"
	"github.com/Bronek/clio/pkg/upstream"
	"github.com/Bronek/clio/pkg/web"
)

// EnvPrefix prefixes every environment variable, e.g. CLIO_SERVER_ADDRESS.
const EnvPrefix = "CLIO"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Workers    int              `mapstructure:"workers"`
	MaxQueue   uint32           `mapstructure:"max_queue_size"`
	DOSGuard   DOSGuardConfig   `mapstructure:"dos_guard"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Forwarding ForwardingConfig `mapstructure:"forwarding"`
	APIVersion APIVersionConfig `mapstructure:"api_version"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	AdminPassword   string `mapstructure:"admin_password"`
	MaxRequestBytes int64  `mapstructure:"max_request_bytes"`
	WSQueueSize     int    `mapstructure:"ws_queue_size"`
}

type DOSGuardConfig struct {
	Whitelist      []string      `mapstructure:"whitelist"`
	MaxRequests    int64         `mapstructure:"max_requests"`
	MaxConnections int           `mapstructure:"max_connections"`
	Interval       time.Duration `mapstructure:"interval"`
}

// RedisConfig points at the redis instance shared by the DOS guard and
// the forwarding cache. Without an Address the guard counts in process
// and forwarded responses are not cached.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Objects        int    `mapstructure:"objects"`
	Load           bool   `mapstructure:"load"`
	LoadWorkers    int    `mapstructure:"load_workers"`
	LoadPartitions int    `mapstructure:"load_partitions"`
	PageSize       uint32 `mapstructure:"page_size"`
}

// ForwardingConfig describes the upstream node. An empty URL disables
// forwarding; forwarded methods then fail with failedToForward.
type ForwardingConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CachedCommands []string      `mapstructure:"cached_commands"`
}

type APIVersionConfig struct {
	Default uint32 `mapstructure:"default"`
	Min     uint32 `mapstructure:"min"`
	Max     uint32 `mapstructure:"max"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	TagStyle string `mapstructure:"tag_style"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"address":        "server.address",
	"admin-password": "server.admin_password",
	"workers":        "workers",
	"max-queue-size": "max_queue_size",
	"redis":          "redis.address",
	"db-path":        "database.path",
	"cache-objects":  "cache.objects",
	"cache-load":     "cache.load",
	"forward-url":    "forwarding.url",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// RegisterFlags defines the command line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("address", "", "listen address for HTTP and websocket clients")
	fs.String("admin-password", "", "password granting admin rights (loopback clients are admins when empty)")
	fs.Int("workers", 0, "number of request workers")
	fs.Uint32("max-queue-size", 0, "maximum number of queued requests (0 = unbounded)")
	fs.String("redis", "", "redis address used by the DOS guard and the forwarding cache")
	fs.String("db-path", "", "directory of the ledger store")
	fs.Int("cache-objects", 0, "capacity of the hot object cache")
	fs.Bool("cache-load", false, "warm the hot cache with the full state at startup")
	fs.String("forward-url", "", "JSON-RPC endpoint of the upstream node")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error, fatal)")
	fs.String("log-format", "", "log format (json, console)")
}

func setDefaults(v *viper.Viper) {
	webDefaults := web.DefaultConfig()
	v.SetDefault("server.address", webDefaults.Address)
	v.SetDefault("server.admin_password", "")
	v.SetDefault("server.max_request_bytes", webDefaults.MaxRequestBytes)
	v.SetDefault("server.ws_queue_size", webDefaults.WSQueueSize)

	v.SetDefault("workers", 8)
	v.SetDefault("max_queue_size", 0)

	guard := dosguard.DefaultConfig()
	v.SetDefault("dos_guard.whitelist", guard.Whitelist)
	v.SetDefault("dos_guard.max_requests", guard.MaxRequests)
	v.SetDefault("dos_guard.max_connections", guard.MaxConnections)
	v.SetDefault("dos_guard.interval", guard.Interval)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.path", "clio_data")

	loader := ledgercache.DefaultLoaderConfig()
	v.SetDefault("cache.objects", 1_000_000)
	v.SetDefault("cache.load", false)
	v.SetDefault("cache.load_workers", loader.Workers)
	v.SetDefault("cache.load_partitions", loader.Partitions)
	v.SetDefault("cache.page_size", loader.PageSize)

	forward := upstream.DefaultConfig("")
	v.SetDefault("forwarding.url", "")
	v.SetDefault("forwarding.timeout", forward.Timeout)
	v.SetDefault("forwarding.cache_ttl", forward.CacheTTL)
	v.SetDefault("forwarding.cached_commands", forward.CachedCommands)

	api := rpc.DefaultAPIVersionParser()
	v.SetDefault("api_version.default", api.Default)
	v.SetDefault("api_version.min", api.Min)
	v.SetDefault("api_version.max", api.Max)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.format", string(logging.FormatJSON))
	v.SetDefault("log.tag_style", string(logging.TagNone))
}

// Load reads configuration into a Config. path may be empty; fs may be nil.
// Only flags explicitly set on fs override the other sources.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the components cannot correct on their own.
func (c Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address must not be empty")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Cache.Objects <= 0 {
		return errors.New("cache.objects must be positive")
	}
	if c.APIVersion.Min > c.APIVersion.Max {
		return fmt.Errorf("api_version.min (%d) exceeds api_version.max (%d)", c.APIVersion.Min, c.APIVersion.Max)
	}
	if c.APIVersion.Default < c.APIVersion.Min || c.APIVersion.Default > c.APIVersion.Max {
		return fmt.Errorf("api_version.default (%d) outside %d..%d", c.APIVersion.Default, c.APIVersion.Min, c.APIVersion.Max)
	}
	if _, err := logging.ParseTagStyle(c.Log.TagStyle); err != nil {
		return err
	}
	return c.DOSGuardConfig().Validate()
}

func (c Config) WebConfig() web.Config {
	cfg := web.DefaultConfig()
	cfg.Address = c.Server.Address
	cfg.AdminPassword = c.Server.AdminPassword
	cfg.MaxRequestBytes = c.Server.MaxRequestBytes
	cfg.WSQueueSize = c.Server.WSQueueSize
	return cfg
}

func (c Config) DOSGuardConfig() dosguard.Config {
	return dosguard.Config{
		Whitelist:      c.DOSGuard.Whitelist,
		MaxRequests:    c.DOSGuard.MaxRequests,
		MaxConnections: c.DOSGuard.MaxConnections,
		Interval:       c.DOSGuard.Interval,
	}
}

func (c Config) LoaderConfig() ledgercache.LoaderConfig {
	return ledgercache.LoaderConfig{
		Workers:    c.Cache.LoadWorkers,
		Partitions: c.Cache.LoadPartitions,
		PageSize:   c.Cache.PageSize,
	}
}

// UpstreamConfig returns the forwarding client configuration without a
// response cache; the caller attaches one when redis is configured.
func (c Config) UpstreamConfig() upstream.Config {
	cfg := upstream.DefaultConfig(c.Forwarding.URL)
	cfg.Timeout = c.Forwarding.Timeout
	cfg.CacheTTL = c.Forwarding.CacheTTL
	cfg.CachedCommands = c.Forwarding.CachedCommands
	return cfg
}

func (c Config) APIVersionParser() rpc.APIVersionParser {
	return rpc.APIVersionParser{
		Default: c.APIVersion.Default,
		Min:     c.APIVersion.Min,
		Max:     c.APIVersion.Max,
	}
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Log.Level),
		Format: logging.Format(c.Log.Format),
		Output: os.Stderr,
	}
}

// TagStyle is valid once Validate has passed.
func (c Config) TagStyle() logging.TagStyle {
	style, _ := logging.ParseTagStyle(c.Log.TagStyle)
	return style
}
