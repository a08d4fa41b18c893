package config

import (
	"fmt"
	"strings"
	"time"

	"herald/internal/channel"
)

// Default pre-declared channels for a fresh deployment. Producers can
// publish to any valid name regardless; these just survive empty.
var defaultChannels = []string{"global", "trade", "candles", "sys"}

// Config is the runtime configuration record for the broker. It is
// produced once at startup; nothing mutates it afterwards.
type Config struct {
	Host                 string
	Port                 string
	HeartbeatInterval    time.Duration
	MaxClientsPerChannel int
	Channels             []string
	LogLevel             string
	JWTSecret            string
	JWTAlgorithm         string
	RequireAuth          bool
	ShutdownTimeout      time.Duration
}

// Load builds a Config from the process environment.
func Load() (Config, error) {
	cfg := Config{
		Host:                 GetEnv("HOST", "0.0.0.0"),
		Port:                 GetEnv("PORT", "18040"),
		HeartbeatInterval:    GetEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		MaxClientsPerChannel: GetEnvInt("MAX_CLIENTS_PER_CHANNEL", 0),
		LogLevel:             GetEnv("LOG_LEVEL", "info"),
		JWTSecret:            GetEnv("JWT_SECRET", ""),
		JWTAlgorithm:         GetEnv("JWT_ALGORITHM", "HS256"),
		RequireAuth:          GetEnvBool("REQUIRE_AUTH", false),
		ShutdownTimeout:      GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if raw := GetEnv("CHANNELS", ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Channels = append(cfg.Channels, name)
			}
		}
	} else {
		cfg.Channels = append(cfg.Channels, defaultChannels...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the record for values the broker cannot start with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.MaxClientsPerChannel < 0 {
		return fmt.Errorf("max clients per channel must not be negative, got %d", c.MaxClientsPerChannel)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.RequireAuth && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when REQUIRE_AUTH is enabled")
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT algorithm %q", c.JWTAlgorithm)
	}
	for _, name := range c.Channels {
		if _, err := channel.Validate(name); err != nil {
			return fmt.Errorf("pre-declared channel %q: %w", name, err)
		}
	}
	return nil
}
