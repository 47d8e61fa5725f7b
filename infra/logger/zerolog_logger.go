package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and format of service logs.
type Config struct {
	// Level is a zerolog level name; empty means info.
	Level string `json:"level" yaml:"level"`
	// Format is "console" or "json"; empty picks console when APP_ENV=dev.
	Format string `json:"format" yaml:"format"`
}

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	format string
)

// Setup applies cfg to every logger created afterwards.
func Setup(cfg Config) error {
	lvl := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		lvl = l
	}
	switch cfg.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	zerolog.SetGlobalLevel(lvl)
	mu.Lock()
	format = cfg.Format
	mu.Unlock()
	return nil
}

// SetOutput redirects loggers created afterwards, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger. All logs include the provided
// component field.
func NewZerologLogger(component string) Logger {
	mu.RLock()
	w, f := out, format
	mu.RUnlock()
	if f == "" && strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		f = "console"
	}
	if f == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
