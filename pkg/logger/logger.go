package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with a fixed set of contextual fields
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

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// New creates a new logger instance with the given configuration
func New(config Config) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch config.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}

	var output io.Writer
	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		if config.File == "" {
			config.File = "grace-cache.log"
		}

		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		output = file
	default:
		output = os.Stdout
	}
	logger.SetOutput(output)

	return &Logger{
		Logger: logger,
		fields: make(logrus.Fields),
	}, nil
}

// NewNop returns a logger that discards everything. Used by tests and
// one-off admin commands.
func NewNop() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Logger{Logger: logger, fields: make(logrus.Fields)}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value

	return &Logger{
		Logger: l.Logger,
		fields: fields,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		Logger: l.Logger,
		fields: newFields,
	}
}

// WithError adds an error field to the logger context
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(args ...interface{}) {
	l.Logger.WithFields(l.fields).Debug(args...)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(args ...interface{}) {
	l.Logger.WithFields(l.fields).Info(args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(args ...interface{}) {
	l.Logger.WithFields(l.fields).Warn(args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(args ...interface{}) {
	l.Logger.WithFields(l.fields).Error(args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(args ...interface{}) {
	l.Logger.WithFields(l.fields).Fatal(args...)
}

// RequestLogger creates a logger with request-specific fields
func (l *Logger) RequestLogger(requestID, method, path, remoteAddr string) *Logger {
	return l.WithFields(logrus.Fields{
		"request_id":  requestID,
		"method":      method,
		"path":        path,
		"remote_addr": remoteAddr,
		"component":   "request_handler",
	})
}

// BackendLogger creates a logger with backend-specific fields
func (l *Logger) BackendLogger(backendID, backendURL string) *Logger {
	return l.WithFields(logrus.Fields{
		"backend_id":  backendID,
		"backend_url": backendURL,
		"component":   "backend",
	})
}

// HealthCheckLogger creates a logger with health check specific fields
func (l *Logger) HealthCheckLogger() *Logger {
	return l.WithField("component", "health_check")
}

// CacheLogger creates a logger for the request decision engine
func (l *Logger) CacheLogger() *Logger {
	return l.WithField("component", "cache")
}

// StorageLogger creates a logger for store implementations
func (l *Logger) StorageLogger(driver string) *Logger {
	return l.WithFields(logrus.Fields{
		"component": "storage",
		"driver":    driver,
	})
}

// AdminLogger creates a logger for the admin API
func (l *Logger) AdminLogger() *Logger {
	return l.WithField("component", "admin")
}

// MiddlewareLogger creates a logger with middleware specific fields
func (l *Logger) MiddlewareLogger(middlewareName string) *Logger {
	return l.WithFields(logrus.Fields{
		"component":  "middleware",
		"middleware": middlewareName,
	})
}
