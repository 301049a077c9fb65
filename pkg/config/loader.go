package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GQLGW_"

// Common errors for configuration loading.
var (
	ErrFileNotFound = errors.New("configuration file not found")
	ErrInvalidYAML  = errors.New("invalid YAML syntax")
)

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Options controls Load.
type Options struct {
	// File is the YAML file to read. Empty means defaults plus environment.
	File string
	// EnvFiles are dotenv files loaded before overrides are applied. Missing
	// files are ignored. Nil loads ".env".
	EnvFiles []string
	// LookupEnv reads environment variables; nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds, overrides, and validates the configuration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFiles == nil {
		opts.EnvFiles = []string{".env"}
	}
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, opts.File)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg, lookup); err != nil {
			return nil, fmt.Errorf("%s: %w", opts.File, err)
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg after environment substitution. Keys absent
// from data keep their current values.
func Parse(data []byte, cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	expanded := ExpandEnvVars(string(data), lookup)
	if strings.TrimSpace(expanded) == "" {
		return nil
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// ExpandEnvVars expands ${VAR_NAME} and ${VAR_NAME:-default} in input.
func ExpandEnvVars(input string, lookup func(string) (string, bool)) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if val, ok := lookup(sub[1]); ok && val != "" {
			return val
		}
		return sub[2]
	})
}

type override struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var overrides = []override{
	{"SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"SERVER_SUBSCRIPTION_PATH", str(func(c *Config) *string { return &c.Server.SubscriptionPath })},
	{"SERVER_SHUTDOWN_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"SERVER_CORS_ENABLED", boolean(func(c *Config) *bool { return &c.Server.CORS.Enabled })},
	{"SERVER_CORS_ALLOWED_ORIGINS", func(c *Config, v string) error {
		c.Server.CORS.AllowedOrigins = splitList(v)
		return nil
	}},
	{"SCHEMA_FILE", str(func(c *Config) *string { return &c.Schema.File })},
	{"AUTH_MODE", str(func(c *Config) *string { return &c.Auth.Mode })},
	{"AUTH_SECRET", str(func(c *Config) *string { return &c.Auth.Secret })},
	{"AUTH_ISSUER", str(func(c *Config) *string { return &c.Auth.Issuer })},
	{"CACHE_ENABLED", boolean(func(c *Config) *bool { return &c.Cache.Enabled })},
	{"CACHE_STORE", str(func(c *Config) *string { return &c.Cache.Store })},
	{"CACHE_REDIS_URL", str(func(c *Config) *string { return &c.Cache.RedisURL })},
	{"CACHE_TTL", dur(func(c *Config) *time.Duration { return &c.Cache.TTL })},
	{"CACHE_CONTEXT_FIELDS", func(c *Config, v string) error {
		c.Cache.ContextFields = splitList(v)
		return nil
	}},
	{"BROKER_MODE", str(func(c *Config) *string { return &c.Broker.Mode })},
	{"BROKER_URL", str(func(c *Config) *string { return &c.Broker.URL })},
	{"BROKER_CLIENT_ID", str(func(c *Config) *string { return &c.Broker.ClientID })},
	{"BROKER_USERNAME", str(func(c *Config) *string { return &c.Broker.Username })},
	{"BROKER_PASSWORD", str(func(c *Config) *string { return &c.Broker.Password })},
	{"BROKER_EMBEDDED_ADDR", str(func(c *Config) *string { return &c.Broker.EmbeddedAddr })},
	{"SUBSCRIPTIONS_CONNECTION_INIT_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Subscriptions.ConnectionInitTimeout })},
	{"SUBSCRIPTIONS_KEEP_ALIVE", dur(func(c *Config) *time.Duration { return &c.Subscriptions.KeepAlive })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"INTROSPECTION", boolean(func(c *Config) *bool { return &c.Introspection })},
}

// ApplyEnv applies GQLGW_* overrides to cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
