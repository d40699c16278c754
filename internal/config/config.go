package config

import (
	"fmt"
	"os"
	"time"

	envstruct "code.cloudfoundry.org/go-envstruct"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxAge        = 9
	DefaultSubjectPrefix = "ofstats"
)

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	UUID string `yaml:"uuid"`
}

// TableDef defines one OpenFlow table whose flows are reconciled into logical counters.
type TableDef struct {
	ID   uint8  `yaml:"id"`
	Name string `yaml:"name"`
	// Key selects how flows are grouped: "cookie", "cookie_regs" or "rd_drop".
	Key string `yaml:"key"`
}

// StatsConfig holds the configuration of the stats manager.
type StatsConfig struct {
	PollInterval string `yaml:"poll_interval"`
	// PollIntervalMillis takes precedence over PollInterval when set.
	PollIntervalMillis int64      `yaml:"poll_interval_millis"`
	MaxAge             uint32     `yaml:"max_age"`
	Tables             []TableDef `yaml:"tables"`
}

// Interval returns the parsed polling interval.
func (c StatsConfig) Interval() (time.Duration, error) {
	if c.PollIntervalMillis > 0 {
		return time.Duration(c.PollIntervalMillis) * time.Millisecond, nil
	}
	if c.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_interval must be a positive duration")
	}
	return d, nil
}

// TransportConfig configures the NATS connection to the switch codec.
type TransportConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig holds the connection details for Redis.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSPublisherConfig configures the publisher that fans deltas out over NATS.
type NATSPublisherConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MemoryConfig configures the in-process cumulative counter store.
type MemoryConfig struct {
	// Checkpoint is a gob file the store is saved to on shutdown and restored from on start.
	Checkpoint string `yaml:"checkpoint"`
}

// PublisherDef defines a single counter publisher.
type PublisherDef struct {
	Type       string              `yaml:"type"`
	Enabled    bool                `yaml:"enabled"`
	Memory     MemoryConfig        `yaml:"memory"`
	ClickHouse ClickHouseConfig    `yaml:"clickhouse"`
	Redis      RedisConfig         `yaml:"redis"`
	NATS       NATSPublisherConfig `yaml:"nats"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// GRPCConfig configures the gRPC health server.
type GRPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Agent      AgentConfig     `yaml:"agent"`
	Stats      StatsConfig     `yaml:"stats"`
	Transport  TransportConfig `yaml:"transport"`
	Publishers []PublisherDef  `yaml:"publishers"`
	API        APIConfig       `yaml:"api"`
	GRPC       GRPCConfig      `yaml:"grpc"`
	Log        LogConfig       `yaml:"log"`
}

// EnvOverrides lists the settings that can be overridden from the environment.
type EnvOverrides struct {
	AgentUUID string `env:"NS_AGENT_UUID, report"`
	NATSURL   string `env:"NS_NATS_URL, report"`
	APIAddr   string `env:"NS_API_ADDR, report"`
	GRPCAddr  string `env:"NS_GRPC_ADDR, report"`
	LogLevel  string `env:"NS_LOG_LEVEL, report"`
}

// LoadConfig reads the configuration from a YAML file, applies environment
// overrides and fills in defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	var env EnvOverrides
	if err := envstruct.Load(&env); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	cfg.ApplyOverrides(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML configuration without touching the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return &cfg, nil
}

// ApplyOverrides copies every non-empty override into the config.
func (c *Config) ApplyOverrides(env EnvOverrides) {
	if env.AgentUUID != "" {
		c.Agent.UUID = env.AgentUUID
	}
	if env.NATSURL != "" {
		c.Transport.NATSURL = env.NATSURL
	}
	if env.APIAddr != "" {
		c.API.ListenAddr = env.APIAddr
	}
	if env.GRPCAddr != "" {
		c.GRPC.ListenAddr = env.GRPCAddr
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Agent.UUID == "" {
		c.Agent.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(c.Agent.UUID); err != nil {
		return fmt.Errorf("invalid agent uuid: %w", err)
	}

	if _, err := c.Stats.Interval(); err != nil {
		return err
	}
	if c.Stats.MaxAge == 0 {
		c.Stats.MaxAge = DefaultMaxAge
	}
	if len(c.Stats.Tables) == 0 {
		return fmt.Errorf("no stats tables configured")
	}
	seen := make(map[uint8]bool, len(c.Stats.Tables))
	for i := range c.Stats.Tables {
		t := &c.Stats.Tables[i]
		if seen[t.ID] {
			return fmt.Errorf("table %d configured twice", t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			t.Name = fmt.Sprintf("table_%d", t.ID)
		}
		if t.Key == "" {
			t.Key = "cookie"
		}
	}

	if c.Transport.SubjectPrefix == "" {
		c.Transport.SubjectPrefix = DefaultSubjectPrefix
	}
	return nil
}
