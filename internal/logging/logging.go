// Package logging configures the process-wide zerolog logger from config.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ict-trading-bot/config"
)

// ParseLevel maps configured level names onto zerolog levels. Unknown
// values default to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	}
	return zerolog.InfoLevel
}

// Setup builds the root logger and installs it as the global default.
// Output goes to stderr (console-formatted unless JSON is configured) and,
// when a log directory is set, to a bot.log file as JSON.
func Setup(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(cfg.LoggingConfig.Level))

	var console io.Writer = os.Stderr
	if !cfg.LoggingConfig.JSONFormat {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	writers := []io.Writer{console}
	if dir := cfg.LoggingConfig.LogDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			file, err := os.OpenFile(filepath.Join(dir, "bot.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, file)
			}
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
