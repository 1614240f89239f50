// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New builds a charmbracelet logger for w with the given level and format
// (text, json or logfmt). Unknown values fall back to info and text.
func New(w io.Writer, level, format string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	opts := log.Options{
		ReportTimestamp: true,
		Level:           lvl,
		Formatter:       formatter(format),
	}
	return log.NewWithOptions(w, opts)
}

// Setup makes a charmbracelet logger the handler behind slog.Default.
func Setup(w io.Writer, level, format string) *slog.Logger {
	logger := slog.New(New(w, level, format))
	slog.SetDefault(logger)
	return logger
}

func formatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
