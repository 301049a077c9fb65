package config

import "time"

// Auth modes.
const (
	AuthNone = "none"
	AuthJWT  = "jwt"
)

// Cache stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Broker modes.
const (
	BrokerEmbedded = "embedded"
	BrokerMQTT     = "mqtt"
)

// Config is the gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Schema        SchemaConfig        `yaml:"schema"`
	Auth          AuthConfig          `yaml:"auth"`
	Cache         CacheConfig         `yaml:"cache"`
	Broker        BrokerConfig        `yaml:"broker"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Log           LogConfig           `yaml:"log"`
	Introspection bool                `yaml:"introspection"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr             string        `yaml:"addr" validate:"required"`
	SubscriptionPath string        `yaml:"subscriptionPath" validate:"required,startswith=/"`
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
	CORS             CORSConfig    `yaml:"cors"`
}

// CORSConfig configures cross-origin access to every route. An empty
// AllowedOrigins allows any origin.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowedOrigins" validate:"dive,required"`
	AllowedMethods   []string `yaml:"allowedMethods" validate:"dive,required"`
	AllowedHeaders   []string `yaml:"allowedHeaders" validate:"dive,required"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge" validate:"gte=0"`
}

// SchemaConfig selects the served schema. An empty File serves the built-in
// schema.
type SchemaConfig struct {
	File string `yaml:"file" validate:"omitempty,file"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	Mode   string `yaml:"mode" validate:"oneof=none jwt"`
	Secret string `yaml:"secret" validate:"required_if=Mode jwt"`
	Issuer string `yaml:"issuer"`
}

// CacheConfig configures the response cache. ContextFields names the
// request context values that partition entries: user, roles, or any other
// name, read from the X-<name> header.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Store         string        `yaml:"store" validate:"oneof=memory redis"`
	RedisURL      string        `yaml:"redisURL" validate:"required_if=Store redis"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	ContextFields []string      `yaml:"contextFields" validate:"dive,required"`
}

// BrokerConfig configures the event source.
type BrokerConfig struct {
	Mode         string `yaml:"mode" validate:"oneof=embedded mqtt"`
	URL          string `yaml:"url" validate:"required_if=Mode mqtt"`
	ClientID     string `yaml:"clientID"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	EmbeddedAddr string `yaml:"embeddedAddr"`
}

// SubscriptionsConfig configures the WebSocket transports.
type SubscriptionsConfig struct {
	ConnectionInitTimeout time.Duration `yaml:"connectionInitTimeout" validate:"gt=0"`
	KeepAlive             time.Duration `yaml:"keepAlive" validate:"gt=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":4000",
			SubscriptionPath: "/subs",
			ShutdownTimeout:  10 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Auth: AuthConfig{Mode: AuthNone},
		Cache: CacheConfig{
			Enabled:       true,
			Store:         StoreMemory,
			TTL:           time.Minute,
			ContextFields: []string{"user", "roles"},
		},
		Broker: BrokerConfig{Mode: BrokerEmbedded},
		Subscriptions: SubscriptionsConfig{
			ConnectionInitTimeout: 3 * time.Second,
			KeepAlive:             10 * time.Second,
		},
		Log:           LogConfig{Level: "info", Format: "text"},
		Introspection: true,
	}
}
