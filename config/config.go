// Copyright (C) 2026 ssklykov. All Rights Reserved.

// Package config defines the configuration of a multiport server, with
// support for TOML configuration files that may be reloaded while the server
// is running.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/dispatch"
)

// DefaultControl is the default address of the control channel.
const DefaultControl = "localhost:5005"

// Config holds the configuration of a multiport server.
type Config struct {
	Control string // address of the control channel

	Host          string // host on which endpoints are bound
	BasePort      int    // port of endpoint 0, or multiport.AnyPort
	DatagramLimit int
	SampleSize    int

	ReceiveTimeout time.Duration
	SetupTimeout   time.Duration
	QuitDelay      time.Duration

	ReadBuffer int    // socket receive buffer size of each endpoint
	LogLevel   string // zerolog level name
	SaveDir    string // if set, received images are saved here
}

// Default returns a Config with default values.
func Default() Config {
	set := dispatch.DefaultSettings()
	return Config{
		Control:        DefaultControl,
		Host:           set.Host,
		BasePort:       set.BasePort,
		DatagramLimit:  set.DatagramLimit,
		SampleSize:     set.SampleSize,
		ReceiveTimeout: set.ReceiveTimeout,
		SetupTimeout:   set.SetupTimeout,
		QuitDelay:      set.QuitDelay,
		ReadBuffer:     4 << 20,
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Control); err != nil {
		return fmt.Errorf("invalid control address %q: %w", c.Control, err)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.BasePort != multiport.AnyPort && (c.BasePort < 1 || c.BasePort > 65535) {
		return fmt.Errorf("base port %d out of range", c.BasePort)
	}
	if c.DatagramLimit < 1 || c.DatagramLimit > multiport.MaxDatagram {
		return fmt.Errorf("datagram limit %d out of range 1..%d", c.DatagramLimit, multiport.MaxDatagram)
	}
	if c.SampleSize < multiport.MinSampleSize {
		return fmt.Errorf("sample size %d is less than %d", c.SampleSize, multiport.MinSampleSize)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive timeout must be positive")
	}
	if c.SetupTimeout <= 0 {
		return fmt.Errorf("setup timeout must be positive")
	}
	if c.QuitDelay < 0 {
		return fmt.Errorf("quit delay must not be negative")
	}
	if c.ReadBuffer < 0 {
		return fmt.Errorf("read buffer size must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Settings returns the session settings described by c.
func (c *Config) Settings() dispatch.Settings {
	return dispatch.Settings{
		Host:           c.Host,
		BasePort:       c.BasePort,
		DatagramLimit:  c.DatagramLimit,
		SampleSize:     c.SampleSize,
		ReceiveTimeout: c.ReceiveTimeout,
		SetupTimeout:   c.SetupTimeout,
		QuitDelay:      c.QuitDelay,
	}
}

// configSetter applies configuration values while respecting flag precedence.
// It only applies values whose corresponding flag has not been set.
type configSetter struct {
	changed map[string]bool
}

func (s configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and the flag is not set.
func (s configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
