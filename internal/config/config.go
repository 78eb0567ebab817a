package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nulzo/ollama-relay/internal/validator"
	"github.com/spf13/viper"
)

// ServicePrefix marks an environment variable as a backend declaration.
// The remainder of the key is the service name.
const ServicePrefix = "AI_SERVICE_"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Listing ListingConfig `mapstructure:"listing"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Debug   DebugConfig   `mapstructure:"debug"`

	// Services holds every AI_SERVICE_* entry verbatim, keyed by the full
	// variable name. Validation is left to the registry.
	Services map[string]string `mapstructure:"-"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Env  string `mapstructure:"env" validate:"oneof=development production test"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type ListingConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ProxyConfig struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
}

type DebugConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Error is returned for any configuration problem that must stop startup.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads the .env file (if present), the optional config file and the
// process environment.
func Load() (*Config, error) {
	// existing environment variables take priority over .env values
	_ = godotenv.Load()

	return FromEnviron(os.Environ())
}

// FromEnviron builds the configuration using environ for backend
// declarations. Scalar settings are still resolved through viper.
func FromEnviron(environ []string) (*Config, error) {
	v := viper.New()

	explicit := os.Getenv("CONFIG_FILE")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetDefault("server.port", 8034)
	v.SetDefault("server.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("listing.timeout", 5*time.Second)
	v.SetDefault("proxy.connect_timeout", 10*time.Second)
	v.SetDefault("proxy.response_header_timeout", time.Duration(0))
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "ollama-relay")
	v.SetDefault("debug.addr", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.env", "APP_ENV")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, &Error{Reason: "reading config file", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Reason: "decoding settings (is PORT numeric?)", Err: err}
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, &Error{Reason: "invalid settings", Err: err}
	}

	cfg.Services = CollectServices(environ)

	return &cfg, nil
}

// CollectServices picks every AI_SERVICE_* pair out of an environ-style list.
func CollectServices(environ []string) map[string]string {
	services := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, ServicePrefix) {
			continue
		}
		services[key] = value
	}
	return services
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
