package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leaf-can-gateway/bus"
)

// LeveledLogger keeps the printf-style API the bus, gateway and motor
// packages consume and writes through a zerolog logger.
type LeveledLogger struct {
	logger   zerolog.Logger
	logLevel LogLevel
}

// NewLeveledLogger creates a leveled logger writing to w. Console output is
// human readable; anything else gets JSON lines.
func NewLeveledLogger(w io.Writer, level LogLevel, console bool) *LeveledLogger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Str("service", ProjectName).Logger()
	return &LeveledLogger{
		logger:   zl.Level(level.zerolog()),
		logLevel: level,
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelNone:
		return zerolog.Disabled
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a logger tagging every line with component.
func (l *LeveledLogger) With(component string) *LeveledLogger {
	return &LeveledLogger{
		logger:   l.logger.With().Str("component", component).Logger(),
		logLevel: l.logLevel,
	}
}

func (l *LeveledLogger) Debug(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l *LeveledLogger) Info(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

func (l *LeveledLogger) Warn(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l *LeveledLogger) Error(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}

// Printf logs at INFO level
func (l *LeveledLogger) Printf(format string, v ...interface{}) {
	l.Info(format, v...)
}

func (l *LeveledLogger) Fatalf(format string, v ...interface{}) {
	l.logger.WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	os.Exit(1)
}

func (l *LeveledLogger) SetLevel(level LogLevel) {
	l.logLevel = level
	l.logger = l.logger.Level(level.zerolog())
}

func (l *LeveledLogger) GetLevel() LogLevel {
	return l.logLevel
}

// DebugCAN logs CAN frame details at DEBUG level with formatting
func (l *LeveledLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {
	if l.logLevel < LogLevelDebug {
		return
	}
	var sb strings.Builder
	for i := uint8(0); i < length && int(i) < len(data) && i < 8; i++ {
		fmt.Fprintf(&sb, "%02X ", data[i])
	}
	l.logger.Debug().
		Str("dir", direction).
		Msgf("CAN %s: ID=0x%03X Len=%d Data=[%s]", direction, id, length, sb.String())
}

var _ bus.Logger = (*LeveledLogger)(nil)
