// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging wraps charmbracelet/log with the printf-style helpers
// used across the controller and the agent.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below; components that want structured fields use With.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Options configures the package logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json, logfmt
	Prefix string
}

// Configure replaces the package logger according to opts. Unknown levels
// fall back to info and unknown formats to text.
func Configure(w io.Writer, opts Options) {
	if w == nil {
		w = os.Stderr
	}
	l := clog.NewWithOptions(w, clog.Options{
		ReportTimestamp: true,
		Prefix:          opts.Prefix,
	})
	level, err := clog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = clog.InfoLevel
	}
	l.SetLevel(level)
	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(clog.JSONFormatter)
	case "logfmt":
		l.SetFormatter(clog.LogfmtFormatter)
	default:
		l.SetFormatter(clog.TextFormatter)
	}
	L = l
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...interface{}) *clog.Logger {
	return L.With(keyvals...)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
