package config

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

// Args is the outcome of parsing the command line.
type Args struct {
	Config *Config

	// ConfigPath is the file the configuration was loaded from, if any.
	ConfigPath string

	// Watch reloads ConfigPath when it changes.
	Watch bool

	ShowVersion bool
}

// ParseFlags builds the configuration from args. When --config is given the
// file is loaded first and only flags set explicitly override it.
func ParseFlags(fs *flag.FlagSet, args []string) (Args, error) {
	var (
		out       Args
		def       = Default()
		mode      string
		interval  uint
		timeout   uint
		scale     uint
		statsRate uint
		c         Config
	)

	fs.StringVarP(&mode, "mode", "m", string(def.Mode), "Probe mode: icmp, udp-client or udp-server")
	fs.UintVarP(&interval, "interval", "i", uint(def.Interval.Milliseconds()), "Interval between probes in milliseconds")
	fs.UintVarP(&timeout, "timeout", "t", uint(def.Timeout.Milliseconds()), "Probe timeout in milliseconds")
	fs.Uint16VarP(&c.Port, "port", "p", def.Port, "UDP port to probe or serve on")
	fs.StringVar(&c.Bind, "bind", "", "Server bind address (default: 0.0.0.0 and [::])")
	fs.StringVarP(&c.Interface, "interface", "I", "", "Send probes from the address of this interface")
	fs.BoolVar(&c.Privileged, "privileged", false, "Use raw ICMP sockets (requires root or CAP_NET_RAW)")
	fs.UintVarP(&scale, "scale", "s", uint(def.Scale.Milliseconds()), "RTT in milliseconds at which the color scale saturates")
	fs.IntVarP(&c.BufferMB, "buffer", "b", def.BufferMB, "History buffer size in megabytes")
	fs.StringVar(&c.MetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&c.Database, "db", "", "Log every result to this SQLite database")
	fs.StringVar(&c.StatsPath, "stats-file", "", "Write session statistics as JSON to this file")
	fs.UintVar(&statsRate, "stats-rate", uint(def.StatsRate.Milliseconds()), "Statistics file update interval in milliseconds")
	fs.StringVarP(&c.LogFile, "log", "l", "", "Diagnostic log file (empty = stderr)")
	fs.StringVar(&c.LogLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVarP(&out.ConfigPath, "config", "c", "", "Load settings from a JSON or YAML file")
	fs.BoolVar(&out.Watch, "watch", false, "Reload the config file when it changes")
	fs.BoolVarP(&out.ShowVersion, "version", "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return out, err
	}
	if out.ShowVersion {
		return out, nil
	}

	cfg := def
	if out.ConfigPath != "" {
		var err error
		if cfg, err = Load(out.ConfigPath); err != nil {
			return out, err
		}
	} else if out.Watch {
		return out, fmt.Errorf("--watch requires --config")
	}

	if host := fs.Arg(0); host != "" {
		cfg.Host = host
	}

	set := func(name string, apply func()) {
		if out.ConfigPath == "" || fs.Changed(name) {
			apply()
		}
	}
	var modeErr error
	set("mode", func() { cfg.Mode, modeErr = ParseMode(mode) })
	if modeErr != nil {
		return out, modeErr
	}
	set("interval", func() { cfg.Interval = millis(interval) })
	set("timeout", func() { cfg.Timeout = millis(timeout) })
	set("scale", func() { cfg.Scale = millis(scale) })
	set("stats-rate", func() { cfg.StatsRate = millis(statsRate) })
	set("port", func() { cfg.Port = c.Port })
	set("bind", func() { cfg.Bind = c.Bind })
	set("interface", func() { cfg.Interface = c.Interface })
	set("privileged", func() { cfg.Privileged = c.Privileged })
	set("buffer", func() { cfg.BufferMB = c.BufferMB })
	set("metrics-listen", func() { cfg.MetricsListen = c.MetricsListen })
	set("db", func() { cfg.Database = c.Database })
	set("stats-file", func() { cfg.StatsPath = c.StatsPath })
	set("log", func() { cfg.LogFile = c.LogFile })
	set("log-level", func() { cfg.LogLevel = c.LogLevel })

	if err := cfg.Validate(); err != nil {
		return out, err
	}
	out.Config = cfg
	return out, nil
}

func millis(ms uint) Interval {
	return Interval{Duration: time.Duration(ms) * time.Millisecond}
}
