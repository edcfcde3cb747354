package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

type Config struct {
	Server struct {
		Host            string    `mapstructure:"host"`
		Port            int       `mapstructure:"port"`
		TLS             TLSConfig `mapstructure:"tls"`
		ShutdownTimeout int       `mapstructure:"shutdown_timeout"` // seconds
	} `mapstructure:"server"`
	Rest struct {
		BaseURL string `mapstructure:"base_url"`
		Timeout int    `mapstructure:"timeout"` // seconds
	} `mapstructure:"rest"`
	Bus struct {
		URL               string    `mapstructure:"url"`
		ReconnectDelay    int       `mapstructure:"reconnect_delay"`    // seconds
		HeartbeatInterval int       `mapstructure:"heartbeat_interval"` // seconds
		TLS               TLSConfig `mapstructure:"tls"`
	} `mapstructure:"bus"`
	Sync struct {
		PollInterval int `mapstructure:"poll_interval"` // seconds
	} `mapstructure:"sync"`
	StateStore struct {
		Enabled bool     `mapstructure:"enabled"`
		Addr    []string `mapstructure:"addr"`
	} `mapstructure:"statestore"`
	Health struct {
		Enabled       bool   `mapstructure:"enabled"`
		Port          int    `mapstructure:"port"`
		ReadinessPath string `mapstructure:"readiness_path"`
		LivenessPath  string `mapstructure:"liveness_path"`
	} `mapstructure:"health"`
}

func (c *Config) RestTimeout() time.Duration {
	return time.Duration(c.Rest.Timeout) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Bus.ReconnectDelay) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Bus.HeartbeatInterval) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollInterval) * time.Second
}

func Load(cfgFile, env string) (*Config, error) {
	v := viper.New()

	// Default values. Nothing hard-fails when absent; a missing config
	// file degrades to the defaults below plus environment overrides.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("rest.base_url", "http://localhost:9000")
	v.SetDefault("rest.timeout", 15)
	v.SetDefault("bus.url", "nats://localhost:4222")
	v.SetDefault("bus.reconnect_delay", 5)
	v.SetDefault("bus.heartbeat_interval", 30)
	v.SetDefault("bus.tls.enabled", false)
	v.SetDefault("sync.poll_interval", 10)
	v.SetDefault("statestore.enabled", false)
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8081)
	v.SetDefault("health.readiness_path", "/health/ready")
	v.SetDefault("health.liveness_path", "/health/live")

	// If config file passed via CLI flag
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		// A file named explicitly must exist; the implicit search may
		// come up empty, in which case the defaults apply.
		if cfgFile != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Merge environment-specific config (config.prod.yaml, etc.)
	if env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		_ = v.MergeInConfig() // optional, ignore error if not found
	}

	// Environment overrides
	v.SetEnvPrefix("SATTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}
