// Package logging provides structured logging to the console and a daily
// log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level   string    // debug, info, warn, error
	LogDir  string    // empty disables the log file
	Console bool      // pretty console output
	Out     io.Writer // console destination, os.Stdout when nil
}

func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Console: true,
	}
}

// Logger wraps zerolog with an optional daily file.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string
}

func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	l := &Logger{}
	var writers []io.Writer

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.logPath = filepath.Join(cfg.LogDir, fmt.Sprintf("cortexface_%s.log", time.Now().Format("2006-01-02")))
		l.file, err = os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, l.file)
	}

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	l.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "cortexface").
		Logger()

	initLog := l.Component("logging")
	initLog.Debug().
		Str("file", l.logPath).
		Str("level", level.String()).
		Msg("Logger initialized")

	return l, nil
}

// Component returns a zerolog.Logger with the component field set.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// LogPath is the daily log file, or "" when file output is off.
func (l *Logger) LogPath() string {
	return l.logPath
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
