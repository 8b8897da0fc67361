package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen            = "0.0.0.0:8000"
	DefaultTokenMaxAgeSec    = 3600
	DefaultNodeTTLSec        = 1800
	DefaultVerifyRatePerSec  = 5.0
	DefaultVerifyBurst       = 10
	DefaultRedisPrefix       = "relayctl"
	DefaultSnapshotInterval  = 60
	DefaultIntervalSec       = 900
	MinIntervalSec           = 10
	DefaultRequestTimeoutSec = 10
	DefaultAddrTimeoutSec    = 5
	DefaultAuthAttempts      = 3
	DefaultIPEchoURL         = "https://api.ipify.org?format=json"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"

	envPrefix = "RELAYCTL"
)

// Config holds the settings of every role; a process reads only its section.
type Config struct {
	Log         *LogConfig         `yaml:"log,omitempty" mapstructure:"log"`
	Coordinator *CoordinatorConfig `yaml:"coordinator,omitempty" mapstructure:"coordinator"`
	Agent       *AgentConfig       `yaml:"agent,omitempty" mapstructure:"agent"`
	Discovery   *DiscoveryConfig   `yaml:"discovery,omitempty" mapstructure:"discovery"`
}

// LogConfig controls the zap logger built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console|json
	File   string `yaml:"file" mapstructure:"file"`
}

// CoordinatorConfig is used by the coordinator process.
type CoordinatorConfig struct {
	Listen         string `yaml:"listen" mapstructure:"listen"`
	Secret         string `yaml:"secret" mapstructure:"secret"`
	TokenMaxAgeSec int    `yaml:"token_max_age_sec" mapstructure:"token_max_age_sec"`
	NodeTTLSec     int    `yaml:"node_ttl_sec" mapstructure:"node_ttl_sec"`
	ClashFilePath  string `yaml:"clash_file_path" mapstructure:"clash_file_path"`
	SnapshotPath   string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	// SnapshotIntervalSec is the period of snapshot checkpoints while serving.
	SnapshotIntervalSec int `yaml:"snapshot_interval_sec" mapstructure:"snapshot_interval_sec"`
	// VerifyRatePerSec throttles /verification; negative disables throttling.
	VerifyRatePerSec float64 `yaml:"verify_rate_per_sec" mapstructure:"verify_rate_per_sec"`
	VerifyBurst      int     `yaml:"verify_burst" mapstructure:"verify_burst"`
	// RedisAddr selects the Redis registry backend when set.
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
}

// AgentConfig is used by the relay agent running on each relay node.
type AgentConfig struct {
	NodeID            string   `yaml:"node_id" mapstructure:"node_id"`
	Coordinator       string   `yaml:"coordinator" mapstructure:"coordinator"`
	Password          string   `yaml:"password" mapstructure:"password"`
	Port              int      `yaml:"port" mapstructure:"port"`
	IntervalSec       int      `yaml:"interval_sec" mapstructure:"interval_sec"`
	RequestTimeoutSec int      `yaml:"request_timeout_sec" mapstructure:"request_timeout_sec"`
	AddrTimeoutSec    int      `yaml:"addr_timeout_sec" mapstructure:"addr_timeout_sec"`
	AuthAttempts      int      `yaml:"auth_attempts" mapstructure:"auth_attempts"`
	IPEchoURL         string   `yaml:"ip_echo_url" mapstructure:"ip_echo_url"`
	STUNServers       []string `yaml:"stun_servers" mapstructure:"stun_servers"`
	MetricsPath       string   `yaml:"metrics_path" mapstructure:"metrics_path"`
}

// DiscoveryConfig is used by discovery clients.
type DiscoveryConfig struct {
	Coordinator       string `yaml:"coordinator" mapstructure:"coordinator"`
	Password          string `yaml:"password" mapstructure:"password"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" mapstructure:"request_timeout_sec"`
}

// secretKeys are bound to RELAYCTL_* variables so they can stay out of files.
var secretKeys = []string{
	"coordinator.secret",
	"coordinator.redis_password",
	"agent.password",
	"discovery.password",
}

// Load reads a YAML config file (optional when path is empty) and applies
// RELAYCTL_* environment overrides, e.g. RELAYCTL_AGENT_PASSWORD.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports every missing or out-of-range field at once.
func Validate(cfg Config) error {
	if cfg.Coordinator == nil && cfg.Agent == nil && cfg.Discovery == nil {
		return errors.New("config must contain a coordinator, agent or discovery section")
	}

	var err error
	if c := cfg.Coordinator; c != nil {
		if c.Listen == "" {
			err = multierr.Append(err, errors.New("coordinator.listen is required"))
		}
		if c.Secret == "" {
			err = multierr.Append(err, errors.New("coordinator.secret is required"))
		}
		if c.TokenMaxAgeSec <= 0 {
			err = multierr.Append(err, errors.New("coordinator.token_max_age_sec must be positive"))
		}
		if c.NodeTTLSec <= 0 {
			err = multierr.Append(err, errors.New("coordinator.node_ttl_sec must be positive"))
		}
		if c.SnapshotIntervalSec < 0 {
			err = multierr.Append(err, errors.New("coordinator.snapshot_interval_sec must not be negative"))
		}
	}
	if a := cfg.Agent; a != nil {
		if a.NodeID == "" {
			err = multierr.Append(err, errors.New("agent.node_id is required"))
		}
		if a.Coordinator == "" {
			err = multierr.Append(err, errors.New("agent.coordinator is required"))
		}
		if a.Password == "" {
			err = multierr.Append(err, errors.New("agent.password is required"))
		}
		if a.Port <= 0 || a.Port > 65535 {
			err = multierr.Append(err, fmt.Errorf("agent.port %d out of range", a.Port))
		}
		if a.IPEchoURL == "" && len(a.STUNServers) == 0 {
			err = multierr.Append(err, errors.New("agent needs ip_echo_url or stun_servers"))
		}
	}
	if d := cfg.Discovery; d != nil {
		if d.Coordinator == "" {
			err = multierr.Append(err, errors.New("discovery.coordinator is required"))
		}
		if d.Password == "" {
			err = multierr.Append(err, errors.New("discovery.password is required"))
		}
	}
	return err
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Log == nil {
		cfg.Log = &LogConfig{}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if c := cfg.Coordinator; c != nil {
		if c.Listen == "" {
			c.Listen = DefaultListen
		}
		if c.TokenMaxAgeSec == 0 {
			c.TokenMaxAgeSec = DefaultTokenMaxAgeSec
		}
		if c.NodeTTLSec == 0 {
			c.NodeTTLSec = DefaultNodeTTLSec
		}
		if c.VerifyRatePerSec == 0 {
			c.VerifyRatePerSec = DefaultVerifyRatePerSec
		}
		if c.VerifyBurst == 0 {
			c.VerifyBurst = DefaultVerifyBurst
		}
		if c.RedisPrefix == "" {
			c.RedisPrefix = DefaultRedisPrefix
		}
		if c.SnapshotIntervalSec == 0 {
			c.SnapshotIntervalSec = DefaultSnapshotInterval
		}
	}

	if a := cfg.Agent; a != nil {
		if a.IntervalSec == 0 {
			a.IntervalSec = DefaultIntervalSec
		}
		if a.RequestTimeoutSec == 0 {
			a.RequestTimeoutSec = DefaultRequestTimeoutSec
		}
		if a.AddrTimeoutSec == 0 {
			a.AddrTimeoutSec = DefaultAddrTimeoutSec
		}
		if a.AuthAttempts == 0 {
			a.AuthAttempts = DefaultAuthAttempts
		}
		if a.IPEchoURL == "" && len(a.STUNServers) == 0 {
			a.IPEchoURL = DefaultIPEchoURL
		}
	}

	if d := cfg.Discovery; d != nil {
		if d.RequestTimeoutSec == 0 {
			d.RequestTimeoutSec = DefaultRequestTimeoutSec
		}
	}
}
