// Copyright (C) 2026 ssklykov. All Rights Reserved.

package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/go-cmp/cmp"
	"github.com/ssklykov/multiport"
	"github.com/ssklykov/multiport/config"
	"github.com/ssklykov/multiport/dispatch"
)

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatalf("Write config: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config is invalid: %v", err)
	}
	if diff := cmp.Diff(cfg.Settings(), dispatch.DefaultSettings()); diff != "" {
		t.Errorf("Default settings (-got, +want):\n%s", diff)
	}
	if cfg.Control != "localhost:5005" {
		t.Errorf("Control: got %q, want localhost:5005", cfg.Control)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*config.Config)
		valid bool
	}{
		{"AnyPort", func(c *config.Config) { c.BasePort = multiport.AnyPort }, true},
		{"NoControlPort", func(c *config.Config) { c.Control = "localhost" }, false},
		{"NoHost", func(c *config.Config) { c.Host = "" }, false},
		{"BasePortZero", func(c *config.Config) { c.BasePort = 0 }, false},
		{"BasePortHigh", func(c *config.Config) { c.BasePort = 70000 }, false},
		{"LimitZero", func(c *config.Config) { c.DatagramLimit = 0 }, false},
		{"LimitHigh", func(c *config.Config) { c.DatagramLimit = multiport.MaxDatagram + 1 }, false},
		{"SampleSize", func(c *config.Config) { c.SampleSize = 5 }, false},
		{"ReceiveTimeout", func(c *config.Config) { c.ReceiveTimeout = 0 }, false},
		{"SetupTimeout", func(c *config.Config) { c.SetupTimeout = -time.Second }, false},
		{"QuitDelay", func(c *config.Config) { c.QuitDelay = -1 }, false},
		{"NoQuitDelay", func(c *config.Config) { c.QuitDelay = 0 }, true},
		{"ReadBuffer", func(c *config.Config) { c.ReadBuffer = -1 }, false},
		{"LogLevel", func(c *config.Config) { c.LogLevel = "chatty" }, false},
		{"DebugLevel", func(c *config.Config) { c.LogLevel = "debug" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.edit(&cfg)
			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("Validate: unexpected error: %v", err)
			} else if !tc.valid && err == nil {
				t.Error("Validate: got nil, want error")
			}
		})
	}
}

func TestApply(t *testing.T) {
	port, buf, zero := multiport.AnyPort, 1<<10, 0
	tests := []struct {
		name    string
		file    config.File
		changed map[string]bool
		want    func(*config.Config)
		wantErr bool
	}{
		{
			name: "Empty",
			want: func(*config.Config) {},
		},
		{
			name: "AllFields",
			file: config.File{
				Control:        "0.0.0.0:6000",
				Host:           "10.0.0.1",
				BasePort:       &port,
				DatagramLimit:  9000,
				SampleSize:     8,
				ReceiveTimeout: "3s",
				SetupTimeout:   "1m",
				QuitDelay:      "0s",
				ReadBuffer:     &buf,
				LogLevel:       "debug",
				SaveDir:        "/tmp/images",
			},
			want: func(c *config.Config) {
				c.Control = "0.0.0.0:6000"
				c.Host = "10.0.0.1"
				c.BasePort = multiport.AnyPort
				c.DatagramLimit = 9000
				c.SampleSize = 8
				c.ReceiveTimeout = 3 * time.Second
				c.SetupTimeout = time.Minute
				c.QuitDelay = 0
				c.ReadBuffer = 1 << 10
				c.LogLevel = "debug"
				c.SaveDir = "/tmp/images"
			},
		},
		{
			name:    "RespectsFlags",
			file:    config.File{Host: "10.0.0.1", DatagramLimit: 9000, ReceiveTimeout: "3s"},
			changed: map[string]bool{"host": true, "timeout": true},
			want:    func(c *config.Config) { c.DatagramLimit = 9000 },
		},
		{
			name: "ReadBufferOff",
			file: config.File{ReadBuffer: &zero},
			want: func(c *config.Config) { c.ReadBuffer = 0 },
		},
		{
			name:    "BadDuration",
			file:    config.File{SetupTimeout: "soon"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := config.Default()
			err := tc.file.Apply(&got, tc.changed)
			if tc.wantErr {
				if err == nil {
					t.Error("Apply: got nil, want error")
				}
				return
			} else if err != nil {
				t.Fatalf("Apply: unexpected error: %v", err)
			}
			want := config.Default()
			tc.want(&want)
			if diff := cmp.Diff(got, want); diff != "" {
				t.Errorf("Apply (-got, +want):\n%s", diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "multiport.toml")

	writeFile(t, path, `
# Receiver settings
host = "127.0.0.1"
base_port = 6010
datagram_limit = 1400
receive_timeout = "250ms"
`)
	base := config.Default()
	base.LogLevel = "warn" // as if set by a flag
	cfg, err := config.Load(path, base, map[string]bool{"log-level": true})
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	want := base
	want.Host = "127.0.0.1"
	want.BasePort = 6010
	want.DatagramLimit = 1400
	want.ReceiveTimeout = 250 * time.Millisecond
	if diff := cmp.Diff(cfg, want); diff != "" {
		t.Errorf("Load (-got, +want):\n%s", diff)
	}

	t.Run("ReadBufferOff", func(t *testing.T) {
		writeFile(t, path, `read_buffer = 0`)
		got, err := config.Load(path, base, nil)
		if err != nil {
			t.Fatalf("Load: unexpected error: %v", err)
		}
		if got.ReadBuffer != 0 {
			t.Errorf("ReadBuffer: got %d, want 0", got.ReadBuffer)
		}
	})
	t.Run("UnknownKey", func(t *testing.T) {
		writeFile(t, path, `endpoints = 3`)
		if _, err := config.Load(path, base, nil); err == nil {
			t.Error("Load: got nil, want error for unknown key")
		}
	})
	t.Run("Invalid", func(t *testing.T) {
		writeFile(t, path, `datagram_limit = 70000`)
		got, err := config.Load(path, base, nil)
		if err == nil {
			t.Error("Load: got nil, want validation error")
		}
		if diff := cmp.Diff(got, base); diff != "" {
			t.Errorf("Load after error (-got, +want):\n%s", diff)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		if _, err := config.Load(filepath.Join(dir, "nonesuch.toml"), base, nil); !os.IsNotExist(err) {
			t.Errorf("Load: got %v, want not-exist", err)
		}
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "multiport.toml")
	writeFile(t, path, `datagram_limit = 1000`)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	reloads := make(chan config.File, 16)
	w := taskgroup.Go(func() error {
		return config.Watch(ctx, path, nil, func(fc config.File) { reloads <- fc })
	})

	// The watch is established asynchronously, so rewrite the file until a
	// reload is observed. Writes are spaced out so the reload is not deferred
	// indefinitely.
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case fc := <-reloads:
			if fc.DatagramLimit != 2000 {
				t.Errorf("Reload: got limit %d, want 2000", fc.DatagramLimit)
			}
			done = true
		case <-tick.C:
			writeFile(t, path, `datagram_limit = 2000`)
		case <-deadline:
			t.Fatal("Timed out waiting for reload")
		}
	}

	// Writes to other files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.toml"), `datagram_limit = 3000`)

	cancel()
	if err := w.Wait(); err != nil {
		t.Errorf("Watch: unexpected error: %v", err)
	}
}

func TestWatchMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonesuch", "multiport.toml")
	if err := config.Watch(t.Context(), path, nil, func(config.File) {}); err == nil {
		t.Error("Watch: got nil, want error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := config.NewLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("NewLogger: unexpected error: %v", err)
	}
	log.Info().Msg("quiet")
	log.Warn().Int("endpoint", 3).Msg("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("Log output includes a suppressed event: %q", out)
	}
	if !strings.Contains(out, "loud") || !strings.Contains(out, "endpoint=") {
		t.Errorf("Log output is missing an event: %q", out)
	}

	if _, err := config.NewLogger(&buf, "chatty"); err == nil {
		t.Error("NewLogger: got nil, want error for invalid level")
	}
}
