package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevelEnv overrides the configured log level.
const LogLevelEnv = "DOCUPDATER_LOG_LEVEL"

var logLevel = new(slog.LevelVar)

// ParseLevel accepts DEBUG, INFO, WARN and ERROR in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// ConfigureLogging installs a text logger on w as the default logger and
// returns it. Unknown levels fall back to INFO.
func ConfigureLogging(level string, w io.Writer) *slog.Logger {
	l, err := ParseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
