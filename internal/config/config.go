package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full server configuration. Values resolve in order: defaults,
// then the YAML file when one is given, then environment variables.
type Config struct {
	HTTP       HTTP       `yaml:"http"`
	Socket     Socket     `yaml:"socket"`
	Store      Store      `yaml:"store"`
	Reconciler Reconciler `yaml:"reconciler"`
	Log        Log        `yaml:"log"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"MONEXA_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"MONEXA_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"MONEXA_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MONEXA_HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

type Socket struct {
	SendBuffer   int           `yaml:"send_buffer" env:"MONEXA_SOCKET_SEND_BUFFER" env-default:"64"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"MONEXA_SOCKET_WRITE_TIMEOUT" env-default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"MONEXA_SOCKET_READ_TIMEOUT" env-default:"90s"`
	PingInterval time.Duration `yaml:"ping_interval" env:"MONEXA_SOCKET_PING_INTERVAL" env-default:"30s"`
}

type Store struct {
	Path string `yaml:"path" env:"MONEXA_STORE_PATH" env-default:"monexa.db"`
}

type Reconciler struct {
	Interval time.Duration `yaml:"interval" env:"MONEXA_RECONCILER_INTERVAL" env-default:"5s"`
}

type Log struct {
	Level  string `yaml:"level" env:"MONEXA_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"MONEXA_LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would break the socket supervision invariants.
func (c *Config) Validate() error {
	if c.Socket.SendBuffer < 1 {
		return fmt.Errorf("socket.send_buffer must be at least 1, got %d", c.Socket.SendBuffer)
	}
	if c.Socket.PingInterval >= c.Socket.ReadTimeout {
		// The read deadline only extends on pong, so pings must outpace it.
		return fmt.Errorf("socket.ping_interval (%s) must be shorter than socket.read_timeout (%s)",
			c.Socket.PingInterval, c.Socket.ReadTimeout)
	}
	if c.Reconciler.Interval < time.Second {
		return fmt.Errorf("reconciler.interval must be at least 1s, got %s", c.Reconciler.Interval)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
