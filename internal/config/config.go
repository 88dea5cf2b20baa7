// Package config loads the service configuration.
//
// Values are layered, later sources overriding earlier ones: built-in
// defaults, an optional YAML file, a .env file, MEDBANK_ environment
// variables (double underscore separates levels, MEDBANK_DB__DSN sets
// db.dsn) and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MEDBANK_"

// Config is the complete service configuration.
type Config struct {
	DB     DB     `koanf:"db"`
	HTTP   HTTP   `koanf:"http"`
	Log    Log    `koanf:"log"`
	Search Search `koanf:"search"`
	Sync   Sync   `koanf:"sync"`
}

// DB selects the store.
type DB struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr         string        `koanf:"addr" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	// AdminUsers may manage question-bank sources over the API. In the
	// environment it is a comma separated list.
	AdminUsers   []string      `koanf:"admin_users" validate:"dive,uuid"`
}

// AdminIDs returns AdminUsers as ids. The config must have been validated.
func (h HTTP) AdminIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(h.AdminUsers))
	for i, s := range h.AdminUsers {
		ids[i] = uuid.MustParse(s)
	}
	return ids
}

// Log configures the process logger.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Search tunes full-text search.
type Search struct {
	ExcerptRadius int `koanf:"excerpt_radius" validate:"gte=1"`
	MaxResults    int `koanf:"max_results" validate:"gte=1"`
}

// Sync configures question-bank imports.
type Sync struct {
	// Interval between scheduled syncs in serve; 0 disables scheduling.
	Interval    time.Duration `koanf:"interval" validate:"gte=0"`
	ReposDir    string        `koanf:"repos_dir" validate:"required"`
	Parallelism int           `koanf:"parallelism" validate:"gte=1,lte=64"`
}

var defaults = map[string]any{
	"db.driver":             "sqlite",
	"db.dsn":                "medbank.db",
	"http.addr":             ":8080",
	"http.read_timeout":     15 * time.Second,
	"http.write_timeout":    30 * time.Second,
	"http.admin_users":      []string{},
	"log.level":             "info",
	"log.format":            "text",
	"search.excerpt_radius": 35,
	"search.max_results":    50,
	"sync.interval":         time.Duration(0),
	"sync.repos_dir":        "repos",
	"sync.parallelism":      4,
}

// Options says where Load looks for configuration besides the defaults
// and the environment. Empty fields are skipped.
type Options struct {
	File    string
	EnvFile string
	Flags   *pflag.FlagSet
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds and validates the configuration.
func Load(opts Options) (*Config, error) {
	ko := koanf.New(".")
	for key, val := range defaults {
		if err := ko.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if opts.File != "" {
		if err := ko.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := ko.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if opts.Flags != nil {
		if err := ko.Load(posflag.Provider(opts.Flags, ".", ko), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := ko.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps MEDBANK_HTTP__READ_TIMEOUT to http.read_timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func envValue(key, value string) (string, any) {
	key = envKey(key)
	if key == "http.admin_users" {
		return key, splitList(value)
	}
	return key, value
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Flags registers the command-line overrides on flags. Flag names are the
// configuration keys.
func Flags(flags *pflag.FlagSet) {
	flags.String("db.driver", defaults["db.driver"].(string), "database driver (sqlite or postgres)")
	flags.String("db.dsn", defaults["db.dsn"].(string), "database file (sqlite) or connection string (postgres)")
	flags.String("log.level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	flags.String("log.format", defaults["log.format"].(string), "log format (text or json)")
}

// ServeFlags registers the overrides only the HTTP server uses.
func ServeFlags(flags *pflag.FlagSet) {
	flags.String("http.addr", defaults["http.addr"].(string), "address to listen on")
	flags.Duration("sync.interval", 0, "interval between scheduled source syncs, 0 disables")
	flags.StringSlice("http.admin_users", nil, "user ids allowed to manage sources over the API")
}

// Exists reports whether path names a readable file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
