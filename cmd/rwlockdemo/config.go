package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

const (
	TraceNone = "none"
	TraceText = "text"
	TraceZap  = "zap"
	TraceSlog = "slog"
)

// Config describes one demo run.
type Config struct {
	Readers     int           `yaml:"readers"`
	Writers     int           `yaml:"writers"`
	ReadHold    time.Duration `yaml:"read_hold"`
	WriteHold   time.Duration `yaml:"write_hold"`
	Pause       time.Duration `yaml:"pause"`
	Duration    time.Duration `yaml:"duration"`
	Trace       string        `yaml:"trace"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		Readers:   8,
		Writers:   2,
		ReadHold:  5 * time.Millisecond,
		WriteHold: 5 * time.Millisecond,
		Pause:     time.Millisecond,
		Duration:  3 * time.Second,
		Trace:     TraceNone,
	}
}

func (c Config) validate() error {
	switch c.Trace {
	case TraceNone, TraceText, TraceZap, TraceSlog:
	default:
		return fmt.Errorf("unknown trace mode %q", c.Trace)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	}
	return nil
}

// loadConfig reads a YAML file on top of base. An empty file leaves base
// unchanged.
func loadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := base
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func bindFlags(fs *pflag.FlagSet, c *Config) {
	fs.IntVar(&c.Readers, "readers", c.Readers, "number of reader goroutines")
	fs.IntVar(&c.Writers, "writers", c.Writers, "number of writer goroutines")
	fs.DurationVar(&c.ReadHold, "read-hold", c.ReadHold, "how long a reader holds the lock")
	fs.DurationVar(&c.WriteHold, "write-hold", c.WriteHold, "how long a writer holds the lock")
	fs.DurationVar(&c.Pause, "pause", c.Pause, "pause between two acquisitions of one worker")
	fs.DurationVar(&c.Duration, "duration", c.Duration, "length of the run")
	fs.StringVar(&c.Trace, "trace", c.Trace, "lock trace output: none, text, zap or slog")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve /metrics on this address during the run")
}

// overrideFromFlags copies into dst the fields whose flags were set on the
// command line.
func overrideFromFlags(fs *pflag.FlagSet, dst *Config, flags Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "readers":
			dst.Readers = flags.Readers
		case "writers":
			dst.Writers = flags.Writers
		case "read-hold":
			dst.ReadHold = flags.ReadHold
		case "write-hold":
			dst.WriteHold = flags.WriteHold
		case "pause":
			dst.Pause = flags.Pause
		case "duration":
			dst.Duration = flags.Duration
		case "trace":
			dst.Trace = flags.Trace
		case "metrics-addr":
			dst.MetricsAddr = flags.MetricsAddr
		}
	})
}

// resolveConfig merges defaults, the optional config file and the flags,
// in increasing order of precedence.
func resolveConfig(path string, fs *pflag.FlagSet, flags Config) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		var err error
		if cfg, err = loadConfig(path, cfg); err != nil {
			return Config{}, err
		}
	}
	overrideFromFlags(fs, &cfg, flags)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
