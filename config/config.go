package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Mode selects what the process does with its target.
type Mode string

const (
	ModeICMP      Mode = "icmp"
	ModeUDPClient Mode = "udp-client"
	ModeUDPServer Mode = "udp-server"
)

// ParseMode accepts the canonical names and the short aliases used on the
// command line.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "icmp":
		return ModeICMP, nil
	case "udp-client", "udp", "client":
		return ModeUDPClient, nil
	case "udp-server", "server":
		return ModeUDPServer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrMode, s)
}

// String is the display name.
func (m Mode) String() string {
	switch m {
	case ModeICMP:
		return "ICMP"
	case ModeUDPClient:
		return "UDP Client"
	case ModeUDPServer:
		return "UDP Server"
	}
	return string(m)
}

var (
	ErrHost     = errors.New("a target host is required")
	ErrMode     = errors.New("unknown mode")
	ErrInterval = errors.New("interval must be greater than 0")
	ErrTimeout  = errors.New("timeout must be greater than 0")
	ErrScale    = errors.New("scale must be greater than 0")
	ErrBuffer   = errors.New("buffer must be greater than 0")

	ErrStatsRate = errors.New("stats rate must be greater than 0")
)

type Config struct {
	Host      string   `json:"host" yaml:"host"`
	Mode      Mode     `json:"mode" yaml:"mode"`
	Interval  Interval `json:"interval" yaml:"interval"`
	Timeout   Interval `json:"timeout" yaml:"timeout"`
	Port      uint16   `json:"port" yaml:"port"`
	Bind      string   `json:"bind,omitempty" yaml:"bind,omitempty"`
	Interface string   `json:"interface,omitempty" yaml:"interface,omitempty"`

	// Privileged uses raw ICMP sockets
	Privileged bool `json:"privileged,omitempty" yaml:"privileged,omitempty"`

	// Scale is the RTT at which the display color gradient saturates.
	Scale Interval `json:"scale" yaml:"scale"`

	// BufferMB is the history memory budget in megabytes.
	BufferMB int `json:"buffer_mb" yaml:"buffer_mb"`

	MetricsListen string   `json:"metrics_listen,omitempty" yaml:"metrics_listen,omitempty"`
	Database      string   `json:"database,omitempty" yaml:"database,omitempty"`
	StatsPath     string   `json:"stats_path,omitempty" yaml:"stats_path,omitempty"`
	StatsRate     Interval `json:"stats_rate" yaml:"stats_rate"`
	LogLevel      string   `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile       string   `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Mode:      ModeICMP,
		Interval:  Interval{Duration: time.Second},
		Timeout:   Interval{Duration: 3 * time.Second},
		Port:      44444,
		Scale:     Interval{Duration: 200 * time.Millisecond},
		BufferMB:  10,
		StatsRate: Interval{Duration: time.Second},
		LogLevel:  "info",
	}
}

// Load reads a configuration file on top of the defaults. YAML is used for
// .yaml and .yml files, JSON for anything else.
func Load(path string) (cfg *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	cfg = Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	if cfg.Mode, err = ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	return
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode != ModeUDPServer && c.Host == "" {
		return ErrHost
	}
	if c.Interval.Duration <= 0 {
		return ErrInterval
	}
	if c.Timeout.Duration <= 0 {
		return ErrTimeout
	}
	if c.Scale.Duration <= 0 {
		return ErrScale
	}
	if c.BufferMB <= 0 {
		return ErrBuffer
	}
	if c.StatsPath != "" && c.StatsRate.Duration <= 0 {
		return ErrStatsRate
	}
	return nil
}

// MaxHistory is the number of results that fit in the buffer budget at 48
// bytes each.
func (c *Config) MaxHistory() int {
	n := c.BufferMB * 1024 * 1024 / 48
	if n < 1 {
		n = 1
	}
	return n
}

// RestartNeeded reports whether moving from c to next requires a new probing
// session. Display settings and the buffer size are applied in place.
func (c *Config) RestartNeeded(next *Config) bool {
	return c.Host != next.Host ||
		c.Mode != next.Mode ||
		c.Interval != next.Interval ||
		c.Timeout != next.Timeout ||
		c.Port != next.Port ||
		c.Interface != next.Interface ||
		c.Privileged != next.Privileged
}

// Interval is a time.Duration that encodes as a duration string such as
// "250ms".
type Interval struct {
	time.Duration
}

func (d *Interval) UnmarshalJSON(data []byte) (err error) {
	var pstr string
	err = json.Unmarshal(data, &pstr)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d Interval) MarshalJSON() (data []byte, err error) {
	s := d.Duration.String()
	data, err = json.Marshal(s)
	return
}

func (d *Interval) UnmarshalYAML(unmarshal func(interface{}) error) (err error) {
	var pstr string
	if err = unmarshal(&pstr); err != nil {
		return
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d Interval) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
