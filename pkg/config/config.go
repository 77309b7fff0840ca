package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the controller configuration loaded at startup
type Config struct {
	DataDir       string   `yaml:"data_dir"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	DefaultRegion string   `yaml:"default_region"`
	Regions       []string `yaml:"regions"`

	// Fleet discovery filter: instances carrying this tag are part of the
	// managed fleet. The VPC allowlist is loaded but not applied: the
	// topology view filters by tag and region only.
	FleetTagKey   string   `yaml:"fleet_tag_key"`
	FleetTagValue string   `yaml:"fleet_tag_value"`
	VPCAllowlist  []string `yaml:"vpc_allowlist"`

	Scripts ScriptConfig `yaml:"scripts"`
	Probe   ProbeConfig  `yaml:"probe"`
	Waits   WaitConfig   `yaml:"waits"`
}

// ScriptConfig locates the external hook scripts
type ScriptConfig struct {
	Prognostication string `yaml:"prognostication"`
	Pager           string `yaml:"pager"`
	DNSUpdater      string `yaml:"dns_updater"`
}

// ProbeConfig controls replica database sessions
type ProbeConfig struct {
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	ConnectTimeout int    `yaml:"connect_timeout_seconds"`
}

// WaitConfig bounds the cloud wait primitives
type WaitConfig struct {
	StopTimeoutMinutes  int `yaml:"stop_timeout_minutes"`
	StartTimeoutMinutes int `yaml:"start_timeout_minutes"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:       "/var/lib/pygmy",
		MetricsAddr:   ":9480",
		DefaultRegion: "us-east-1",
		Regions:       []string{"us-east-1"},
		FleetTagKey:   "pygmy",
		FleetTagValue: "postgres",
		Scripts: ScriptConfig{
			Prognostication: "scripts/downsize-prognostication.sh",
			Pager:           "scripts/call-for-help.sh",
			DNSUpdater:      "scripts/route-53-dns-change.sh",
		},
		Probe: ProbeConfig{
			Port:           5432,
			Database:       "postgres",
			ConnectTimeout: 5,
		},
		Waits: WaitConfig{
			StopTimeoutMinutes:  10,
			StartTimeoutMinutes: 10,
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for any
// field the file omits. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region must be enabled")
	}
	if c.FleetTagKey == "" {
		return fmt.Errorf("fleet_tag_key must be set")
	}
	if c.Probe.Port <= 0 || c.Probe.Port > 65535 {
		return fmt.Errorf("invalid probe port %d", c.Probe.Port)
	}
	return nil
}

// StopTimeout returns the stop-wait bound as a duration
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Waits.StopTimeoutMinutes) * time.Minute
}

// StartTimeout returns the start-wait bound as a duration
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Waits.StartTimeoutMinutes) * time.Minute
}
