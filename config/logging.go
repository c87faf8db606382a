// Copyright (C) 2026 ssklykov. All Rights Reserved.

package config

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger writing to w, that discards events below
// the named level.
func NewLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger(), nil
}
