// Package logger is the structured logger shared by the dispatcher, the
// registrar and the control surface.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "sip-dispatcher.log"
)

// Logger is a logrus logger carrying a fixed set of context fields
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// Config holds logger configuration
type Config struct {
	Level  string
	Format string
	Output string
	File   string
}

// New creates a logger from cfg
func New(cfg Config) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	base.SetLevel(level)

	if cfg.Format == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)

	return &Logger{Logger: base, fields: logrus.Fields{}}, nil
}

func openOutput(cfg Config) (io.Writer, error) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	case "file":
		path := cfg.File
		if path == "" {
			path = defaultLogFile
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

// Nop returns a logger that writes nowhere. Used by tests and by components
// constructed without a logger.
func Nop() *Logger {
	l, _ := New(Config{Level: "panic", Format: "text", Output: "discard"})
	return l
}

// derive copies the current fields and adds extra on top
func (l *Logger) derive(extra logrus.Fields) *Logger {
	fields := make(logrus.Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Logger{Logger: l.Logger, fields: fields}
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithFields(l.fields)
}

// Fields returns a copy of the context fields
func (l *Logger) Fields() logrus.Fields {
	return l.derive(nil).fields
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(logrus.Fields{key: value})
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	return l.derive(fields)
}

// WithError adds the error text; a nil error leaves the logger unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(args ...interface{})                 { l.entry().Debug(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry().Debugf(format, args...) }
func (l *Logger) Info(args ...interface{})                  { l.entry().Info(args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry().Infof(format, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.entry().Warn(args...) }
func (l *Logger) Error(args ...interface{})                 { l.entry().Error(args...) }

// Fatal logs and exits the process
func (l *Logger) Fatal(args ...interface{}) { l.entry().Fatal(args...) }

func (l *Logger) component(name string) *Logger {
	return l.WithField("component", name)
}

// DispatcherLogger creates a logger for the selection engine
func (l *Logger) DispatcherLogger() *Logger { return l.component("dispatcher") }

// ProbeLogger creates a logger for the probing scheduler
func (l *Logger) ProbeLogger() *Logger { return l.component("probe") }

// ReloadLogger creates a logger for destination list reloads
func (l *Logger) ReloadLogger() *Logger { return l.component("reload") }

// AdminLogger creates a logger for the control surface
func (l *Logger) AdminLogger() *Logger { return l.component("admin") }

// DestinationLogger creates a logger bound to one destination of a set
func (l *Logger) DestinationLogger(group int, uri string) *Logger {
	return l.derive(logrus.Fields{"component": "dispatcher", "group": group, "uri": uri})
}

// RegistrarLogger creates a logger bound to a location domain
func (l *Logger) RegistrarLogger(domain string) *Logger {
	return l.derive(logrus.Fields{"component": "registrar", "domain": domain})
}
