// Package config loads recovery profiles: the decoding and voting
// settings for a disk, kept in a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/track"
	"github.com/edorfaus/flux-recover/vote"
)

// Config is a recovery profile.
type Config struct {
	Encoding codec.Encoding `yaml:"encoding"`
	// CellPeriod, in nanoseconds, overrides clock estimation when set.
	CellPeriod uint32        `yaml:"cell_period_ns"`
	Vote       VoteConfig    `yaml:"vote"`
	Workers    int           `yaml:"workers"`
	Forensic   bool          `yaml:"forensic"`
	Logging    LoggingConfig `yaml:"logging"`

	// LoadedFrom is the file the profile was read from, if any.
	LoadedFrom string `yaml:"-"`
}

// VoteConfig holds the multi-pass voting settings.
type VoteConfig struct {
	MinConfidence int           `yaml:"min_confidence"`
	MinAttempts   int           `yaml:"min_attempts"`
	MaxPasses     int           `yaml:"max_passes"`
	Adaptive      bool          `yaml:"adaptive"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level int `yaml:"level"`
}

// Default returns the profile used when no file is given.
func Default() *Config {
	v := vote.DefaultConfig()
	return &Config{
		Encoding: codec.MFM,
		Vote: VoteConfig{
			MinConfidence: v.MinConfidence,
			MinAttempts:   v.MinAttempts,
			MaxPasses:     v.MaxPasses,
			Adaptive:      v.Adaptive,
			Timeout:       v.Timeout,
		},
		Logging: LoggingConfig{Level: 1},
	}
}

// Load reads a profile from a YAML file. Settings missing from the file
// keep their default values; unknown settings are an error.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// Parse reads a profile from YAML data, as Load does.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := codec.New(c.Encoding); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("negative worker count: %v", c.Workers)
	}
	if c.CellPeriod != 0 && (c.CellPeriod < 100 || c.CellPeriod > 20000) {
		return fmt.Errorf("cell period out of range: %vns", c.CellPeriod)
	}
	return c.VoteConfig().Validate()
}

func (c *Config) VoteConfig() vote.Config {
	return vote.Config{
		MinConfidence: c.Vote.MinConfidence,
		MinAttempts:   c.Vote.MinAttempts,
		MaxPasses:     c.Vote.MaxPasses,
		Adaptive:      c.Vote.Adaptive,
		Timeout:       c.Vote.Timeout,
	}
}

// Options returns the track decoding options for the profile. The
// callbacks are left for the caller to set.
func (c *Config) Options() track.Options {
	return track.Options{
		Encoding:   c.Encoding,
		CellPeriod: flux.Period(c.CellPeriod),
		Vote:       c.VoteConfig(),
		Forensic:   c.Forensic,
	}
}

// Print writes a summary of the profile.
func (c *Config) Print(w io.Writer) {
	from := "defaults"
	if c.LoadedFrom != "" {
		from = c.LoadedFrom
	}
	fmt.Fprintf(w, "Profile: %s\n", from)
	fmt.Fprintf(w, "Encoding: %v", c.Encoding)
	if c.CellPeriod != 0 {
		fmt.Fprintf(w, " at %vns", c.CellPeriod)
	}
	fmt.Fprintln(w)
	workers := "auto"
	if c.Workers > 0 {
		workers = fmt.Sprintf("%d", c.Workers)
	}
	v := c.Vote
	fmt.Fprintf(w, "Voting: min confidence %v%%, min attempts %v, "+
		"max passes %v, adaptive %v, timeout %v (workers=%s)\n",
		v.MinConfidence, v.MinAttempts, v.MaxPasses, v.Adaptive, v.Timeout,
		workers)
}
