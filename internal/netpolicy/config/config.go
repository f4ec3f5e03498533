package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// SystemUID is the privileged identity exempt from every restriction.
	SystemUID int `koanf:"system_uid" validate:"gte=0"`

	// ShortDelay debounces a UID leaving the bound foreground service state.
	ShortDelay time.Duration `koanf:"short_delay" validate:"gt=0"`

	// LongDelay debounces a UID leaving the top or top-sleeping states.
	LongDelay time.Duration `koanf:"long_delay" validate:"gtefield=ShortDelay"`

	// ListenAddr is the host:port of the HTTP control surface.
	ListenAddr string `koanf:"listen_addr" validate:"required,listen_addr"`

	// StateDB is the bbolt file persisting modes and lists. Empty disables persistence.
	StateDB string `koanf:"state_db"`

	// VerdictCacheSize bounds the last-pushed verdict cache. 0 disables it.
	VerdictCacheSize int `koanf:"verdict_cache_size" validate:"gte=0"`

	// BypassUIDs hold the restricted networking bypass capability.
	BypassUIDs []int `koanf:"bypass_uids" validate:"dive,gte=0"`

	// MetricsNamespace prefixes every exported Prometheus metric.
	MetricsNamespace string `koanf:"metrics_namespace" validate:"required"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:              "prod",
	LogLevel:         "info",
	SystemUID:        1000,
	ShortDelay:       2 * time.Second,
	LongDelay:        10 * time.Second,
	ListenAddr:       "127.0.0.1:8088",
	StateDB:          "/var/lib/netpolicyd/state.db",
	VerdictCacheSize: 4096,
	BypassUIDs:       []int{},
	MetricsNamespace: "netpolicyd",
}

// validListenAddr accepts "host:port" or ":port" with a port in 1..65535.
func validListenAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads NETPOLICY_* variables, lowercasing keys and splitting
// space or comma separated values into lists. Replaceable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "NETPOLICY_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "NETPOLICY_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "listen_addr" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
