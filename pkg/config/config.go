// Package config loads the optional YAML configuration for the boost
// coordinator. Every field has a compile-time default; a missing file or
// empty field falls back to it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AMDEPYC/cpu-boost-coordinator/pkg/boost"
)

type Config struct {
	Boost BoostConfig `yaml:"boost"`
	Input InputConfig `yaml:"input"`
}

type BoostConfig struct {
	// LowTierFreqKHz applies to CPUs below LowTierCPUs on a weak boost.
	LowTierFreqKHz uint32 `yaml:"low_tier_freq_khz"`
	// HighTierFreqKHz applies to the remaining CPUs.
	HighTierFreqKHz uint32 `yaml:"high_tier_freq_khz"`
	LowTierCPUs     uint   `yaml:"low_tier_cpus"`
	// Durations accept Go syntax, e.g. "150ms", "5s".
	BoostDuration string `yaml:"boost_duration"`
	KickStaleness string `yaml:"kick_staleness"`
}

type InputConfig struct {
	DeviceDir string `yaml:"device_dir"`
}

func Default() *Config {
	return &Config{
		Boost: BoostConfig{
			LowTierFreqKHz:  boost.DefaultLowTierFreq,
			HighTierFreqKHz: boost.DefaultHighTierFreq,
			LowTierCPUs:     boost.DefaultLowTierCPUs,
			BoostDuration:   boost.DefaultBoostDuration.String(),
			KickStaleness:   boost.DefaultKickStaleness.String(),
		},
		Input: InputConfig{
			DeviceDir: "/dev/input",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Boost.BoostDuration); err != nil {
		return fmt.Errorf("invalid boost_duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Boost.KickStaleness); err != nil {
		return fmt.Errorf("invalid kick_staleness: %w", err)
	}
	return nil
}

// BoostOpts converts the configuration into coordinator options.
func (c *Config) BoostOpts() (boost.Opts, error) {
	duration, err := time.ParseDuration(c.Boost.BoostDuration)
	if err != nil {
		return boost.Opts{}, fmt.Errorf("invalid boost_duration: %w", err)
	}
	staleness, err := time.ParseDuration(c.Boost.KickStaleness)
	if err != nil {
		return boost.Opts{}, fmt.Errorf("invalid kick_staleness: %w", err)
	}

	return boost.Opts{
		LowTierFreq:   c.Boost.LowTierFreqKHz,
		HighTierFreq:  c.Boost.HighTierFreqKHz,
		LowTierCPUs:   c.Boost.LowTierCPUs,
		BoostDuration: duration,
		KickStaleness: staleness,
	}, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Boost.LowTierFreqKHz == 0 {
		c.Boost.LowTierFreqKHz = d.Boost.LowTierFreqKHz
	}
	if c.Boost.HighTierFreqKHz == 0 {
		c.Boost.HighTierFreqKHz = d.Boost.HighTierFreqKHz
	}
	if c.Boost.LowTierCPUs == 0 {
		c.Boost.LowTierCPUs = d.Boost.LowTierCPUs
	}
	if c.Boost.BoostDuration == "" {
		c.Boost.BoostDuration = d.Boost.BoostDuration
	}
	if c.Boost.KickStaleness == "" {
		c.Boost.KickStaleness = d.Boost.KickStaleness
	}
	if c.Input.DeviceDir == "" {
		c.Input.DeviceDir = d.Input.DeviceDir
	}
}
