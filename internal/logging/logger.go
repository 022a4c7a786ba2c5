// Package logging provides structured logging for both CLI and terminal UI modes.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dedupfs/dupview/internal/events"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli", "tui" or "nop"
	eventBus *events.EventBus
	output   io.Writer // current output writer
	closer   io.Closer
}

// NewLogger creates a new logger for the specified mode writing to w.
// A nil writer selects the mode default: stdout for "cli", stderr otherwise.
func NewLogger(mode string, w io.Writer, eventBus *events.EventBus) *Logger {
	if w == nil {
		if mode == "cli" {
			w = os.Stdout
		} else {
			w = os.Stderr
		}
	}

	l := &Logger{
		mode:     mode,
		eventBus: eventBus,
	}
	l.SetOutput(w)
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli", nil, nil)
}

// NewFileLogger creates a logger that appends to path. Used by the terminal
// browser so log lines never land on the screen it is drawing.
func NewFileLogger(path string, eventBus *events.EventBus) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l := NewLogger("tui", f, eventBus)
	l.closer = f
	return l, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{
		zlog:   zerolog.Nop(),
		mode:   "nop",
		output: io.Discard,
	}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	child := *l
	child.zlog = l.zlog.With().Str("component", component).Logger()
	child.closer = nil
	return &child
}

// SetOutput changes the output writer for the logger.
// File outputs get plain console formatting without colors.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    l.mode == "tui",
	}).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close releases the log file opened by NewFileLogger.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
// The message is mirrored to the event bus so a UI can surface it.
func (l *Logger) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zlog.Error().Msg(msg)
	if l.eventBus != nil {
		l.eventBus.PublishLog(events.ErrorLevel, msg, l.mode, nil)
	}
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// KV adapts the logger to the key/value leveled logging interface used by
// go-retryablehttp.
func (l *Logger) KV() *KVLogger {
	return &KVLogger{l: l}
}

// KVLogger logs msg with alternating key/value pairs as structured fields.
type KVLogger struct {
	l *Logger
}

func (k *KVLogger) Error(msg string, keysAndValues ...interface{}) {
	withFields(k.l.zlog.Error(), keysAndValues).Msg(msg)
}

func (k *KVLogger) Info(msg string, keysAndValues ...interface{}) {
	// Transport chatter stays at debug level
	withFields(k.l.zlog.Debug(), keysAndValues).Msg(msg)
}

func (k *KVLogger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(k.l.zlog.Debug(), keysAndValues).Msg(msg)
}

func (k *KVLogger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(k.l.zlog.Warn(), keysAndValues).Msg(msg)
}

func withFields(ev *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	return ev
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
