// Copyright (C) 2026 ssklykov. All Rights Reserved.

package config

import (
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// File mirrors Config but uses strings for durations to make TOML friendly.
// Unset fields do not affect the configuration they are applied to.
type File struct {
	Control        string `toml:"control"`
	Host           string `toml:"host"`
	BasePort       *int   `toml:"base_port"`
	DatagramLimit  int    `toml:"datagram_limit"`
	SampleSize     int    `toml:"sample_size"`
	ReceiveTimeout string `toml:"receive_timeout"`
	SetupTimeout   string `toml:"setup_timeout"`
	QuitDelay      string `toml:"quit_delay"`
	ReadBuffer     *int   `toml:"read_buffer"`
	LogLevel       string `toml:"log_level"`
	SaveDir        string `toml:"save_dir"`
}

// LoadFile reads and parses a TOML config file from the given path.
// Unknown keys are reported as errors.
func LoadFile(path string) (File, error) {
	var fc File
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// Apply applies the settings of fc to cfg, except those whose flag names are
// set in changed.
func (fc File) Apply(cfg *Config, changed map[string]bool) error {
	s := configSetter{changed: changed}

	s.setString("control", fc.Control, &cfg.Control)
	s.setString("host", fc.Host, &cfg.Host)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("save-dir", fc.SaveDir, &cfg.SaveDir)

	s.setIntPtr("base-port", fc.BasePort, &cfg.BasePort)
	s.setInt("limit", fc.DatagramLimit, &cfg.DatagramLimit)
	s.setInt("sample-size", fc.SampleSize, &cfg.SampleSize)
	s.setIntPtr("read-buffer", fc.ReadBuffer, &cfg.ReadBuffer)

	if err := s.setDuration("timeout", fc.ReceiveTimeout, &cfg.ReceiveTimeout); err != nil {
		return err
	}
	if err := s.setDuration("setup-timeout", fc.SetupTimeout, &cfg.SetupTimeout); err != nil {
		return err
	}
	return s.setDuration("quit-delay", fc.QuitDelay, &cfg.QuitDelay)
}

// Load reads the config file at path, applies it to a copy of base (subject to
// changed, as for [File.Apply]), and validates the result.
func Load(path string, base Config, changed map[string]bool) (Config, error) {
	fc, err := LoadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := fc.Apply(&cfg, changed); err != nil {
		return base, err
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
