package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"aria-orchestrator/internal/config"
)

type Fields map[string]interface{}

// Logger wraps logrus with the key/value convenience style used across the
// services packages.
type Logger struct {
	entry *logrus.Entry
}

func New(cfg config.LogConfig) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(level)

	switch cfg.Format {
	case "json", "":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	base.SetOutput(resolveOutput(cfg))

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func resolveOutput(cfg config.LogConfig) io.Writer {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
}

func (log *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: log.entry.WithFields(logrus.Fields(fields))}
}

func (log *Logger) WithError(err error) *Logger {
	return &Logger{entry: log.entry.WithError(err)}
}

func (log *Logger) Debug(msg string, keysAndValues ...interface{}) {
	log.withKV(keysAndValues).Debug(msg)
}

func (log *Logger) Info(msg string, keysAndValues ...interface{}) {
	log.withKV(keysAndValues).Info(msg)
}

func (log *Logger) Warn(msg string, keysAndValues ...interface{}) {
	log.withKV(keysAndValues).Warn(msg)
}

func (log *Logger) Error(msg string, keysAndValues ...interface{}) {
	log.withKV(keysAndValues).Error(msg)
}

func (log *Logger) withKV(keysAndValues []interface{}) *logrus.Entry {
	if len(keysAndValues) == 0 {
		return log.entry
	}

	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return log.entry.WithFields(fields)
}

// LogService records the outcome of one downstream service operation.
func (log *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := log.entry.WithFields(logrus.Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	if err != nil {
		entry.WithError(err).Error("Service operation failed")
		return
	}
	entry.Debug("Service operation completed")
}

// LogWorkflow records a workflow lifecycle event.
func (log *Logger) LogWorkflow(workflowID, sessionID, event string, duration time.Duration, err error) {
	entry := log.entry.WithFields(logrus.Fields{
		"workflow_id": workflowID,
		"session_id":  sessionID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("Workflow event")
		return
	}
	entry.Info("Workflow event")
}
