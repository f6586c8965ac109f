package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Presence  PresenceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	RateLimit       RateLimitConfig       `mapstructure:"rateLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	// AllowRawID permits bare numeric user ids as connection credentials.
	// Development convenience only; production keeps this off and accepts
	// signed tokens exclusively.
	AllowRawID bool `mapstructure:"allowRawID"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

// RateLimitConfig caps client events per connection within a fixed window.
// A zero Limit disables the limiter.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type PresenceConfig struct {
	// HeartbeatInterval is how often each open connection refreshes the
	// owner's last-seen timestamp.
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	// SweepInterval and StaleAfter drive the background job that flips users
	// offline when their heartbeat stopped without a clean disconnect.
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	StaleAfter    time.Duration `mapstructure:"staleAfter"`
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
	// UsernameTTL bounds how long cached usernames are served before the
	// user store is consulted again.
	UsernameTTL time.Duration `mapstructure:"usernameTTL"`
}

type MetricsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level string
}
