package util

import (
	"context"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConsole is the log path that keeps logging on stderr
const LogConsole = "console"

type LogSource string

const (
	HTTPSource  LogSource = "HTTP"
	RelaySource LogSource = "RELAY"
)

type contextKey string

const (
	LogSourceKey contextKey = "source"
	RequestIDKey contextKey = "requestID"
	PeerIDKey    contextKey = "peerID"
)

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != LogConsole {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&CustomFormatter{})
	log.SetLevel(level)
	return nil
}

// WithLogSource marks ctx so entries logged with it carry the source specific fields
func WithLogSource(ctx context.Context, source LogSource) context.Context {
	return context.WithValue(ctx, LogSourceKey, source)
}

// CustomFormatter formats the log message as required
type CustomFormatter struct {
	log.TextFormatter
}

func (f *CustomFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}

	source, _ := entry.Context.Value(LogSourceKey).(LogSource)
	switch source {
	case HTTPSource:
		return f.formatHTTPLog(entry)
	case RelaySource:
		return f.formatRelayLog(entry)
	default:
		return f.TextFormatter.Format(entry)
	}
}

func (f *CustomFormatter) formatHTTPLog(entry *log.Entry) ([]byte, error) {
	if ctxReqID, ok := entry.Context.Value(RequestIDKey).(string); ok {
		entry.Data["requestID"] = ctxReqID
	}

	return f.TextFormatter.Format(entry)
}

func (f *CustomFormatter) formatRelayLog(entry *log.Entry) ([]byte, error) {
	if ctxPeerID, ok := entry.Context.Value(PeerIDKey).(string); ok {
		entry.Data["peerID"] = ctxPeerID
	}

	return f.TextFormatter.Format(entry)
}
