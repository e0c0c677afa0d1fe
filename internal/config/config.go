package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full service configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

// AppConfig identifies the running instance
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds audit bus settings
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AlertsConfig holds escalation timing and audience policy
type AlertsConfig struct {
	// EscalationDeadline is how long an alert may stay unacknowledged
	// before the sweeper escalates it.
	EscalationDeadline time.Duration `mapstructure:"escalation_deadline"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	// InitialAudience and EscalationAudience are role names resolved
	// against the staff directory at fan-out time.
	InitialAudience    []string `mapstructure:"initial_audience"`
	EscalationAudience []string `mapstructure:"escalation_audience"`
}

// TimelineConfig holds timeline promotion settings
type TimelineConfig struct {
	LookaheadWindow time.Duration `mapstructure:"lookahead_window"`
	PromoteInterval time.Duration `mapstructure:"promote_interval"`
}

// StreamConfig holds per-client delivery channel settings
type StreamConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Load reads configuration from the given directory (file name "config",
// YAML) with THEATRE_-prefixed environment overrides and built-in defaults.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("THEATRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "theatre-ops")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "theatre.db")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("alerts.escalation_deadline", 15*time.Minute)
	v.SetDefault("alerts.sweep_interval", time.Minute)
	v.SetDefault("alerts.initial_audience", []string{
		"theatre_manager", "duty_manager", "anesthetist",
		"scrub_nurse", "charge_nurse",
	})
	v.SetDefault("alerts.escalation_audience", []string{
		"administrator", "clinical_director", "theatre_manager",
	})
	v.SetDefault("timeline.lookahead_window", 30*time.Minute)
	v.SetDefault("timeline.promote_interval", 5*time.Second)
	v.SetDefault("stream.poll_interval", 5*time.Second)
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
}

func (c *Config) validate() error {
	if c.Alerts.EscalationDeadline <= 0 {
		return fmt.Errorf("alerts.escalation_deadline must be positive")
	}
	if c.Alerts.SweepInterval <= 0 {
		return fmt.Errorf("alerts.sweep_interval must be positive")
	}
	if c.Timeline.LookaheadWindow <= 0 {
		return fmt.Errorf("timeline.lookahead_window must be positive")
	}
	if c.Stream.PollInterval <= 0 || c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream intervals must be positive")
	}
	return nil
}
