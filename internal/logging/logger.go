package logging

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/duskwatch/evidence/internal/assert"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// Fields captures structured context for JSON log entries.
// Include RequestID for correlating ingress connections across log lines.
type Fields struct {
	RequestID string `json:"request_id,omitempty"`
	Component string `json:"component,omitempty"`
	Method    string `json:"method,omitempty"`
	BundleDir string `json:"bundle_dir,omitempty"`
	Error     string `json:"error,omitempty"`
}

type entry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Fields
}

var (
	levelOnce sync.Once
	minLevel  = levelInfo
)

func init() {
	if err := assert.Check(log.Default() != nil, "default logger must not be nil"); err != nil {
		return
	}
	log.SetFlags(0)
}

// Debug logs a debug-level message with structured fields in JSON format.
// Respects EVIDENCE_LOG_LEVEL. Returns silently if msg is empty.
func Debug(msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	logWithLevel("debug", msg, fields)
}

// Info logs an info-level message with structured fields in JSON format.
// Default log level if EVIDENCE_LOG_LEVEL is unset.
func Info(msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	logWithLevel("info", msg, fields)
}

// Warn logs a warning-level message, for recoverable protocol errors such as
// a rejected ingress frame.
func Warn(msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	logWithLevel("warn", msg, fields)
}

// Error logs an error-level message, for setup and seal failures.
func Error(msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	logWithLevel("error", msg, fields)
}

func logWithLevel(level string, msg string, fields Fields) {
	if !shouldLog(level) {
		return
	}

	out := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		log.Printf("{\"level\":\"error\",\"msg\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	log.Print(string(payload))
}

func shouldLog(level string) bool {
	levelOnce.Do(func() {
		envLevel := strings.ToLower(os.Getenv("EVIDENCE_LOG_LEVEL"))
		if envLevel == "" {
			envLevel = "info"
		}
		minLevel = levelValue(envLevel)
	})
	return levelValue(level) >= minLevel
}

func levelValue(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Session binds a bundle directory and, once a connection is accepted, a
// correlation ID, so ingress call sites don't repeat BundleDir/RequestID on
// every log line of a connection's lifetime.
type Session struct {
	BundleDir string
	RequestID string
}

// ForBundle starts a Session scoped to one bundle, before any connection
// has been accepted against it.
func ForBundle(bundleDir string) Session {
	return Session{BundleDir: bundleDir}
}

// WithRequest returns a copy of s correlated to one ingress connection.
func (s Session) WithRequest(requestID string) Session {
	s.RequestID = requestID
	return s
}

func (s Session) merge(fields Fields) Fields {
	if fields.BundleDir == "" {
		fields.BundleDir = s.BundleDir
	}
	if fields.RequestID == "" {
		fields.RequestID = s.RequestID
	}
	return fields
}

// Debug logs at debug level with this session's BundleDir/RequestID merged
// into fields (fields set explicitly by the caller take precedence).
func (s Session) Debug(msg string, fields Fields) { Debug(msg, s.merge(fields)) }

// Info logs at info level with this session's BundleDir/RequestID merged in.
func (s Session) Info(msg string, fields Fields) { Info(msg, s.merge(fields)) }

// Warn logs at warn level with this session's BundleDir/RequestID merged in.
func (s Session) Warn(msg string, fields Fields) { Warn(msg, s.merge(fields)) }

// Error logs at error level with this session's BundleDir/RequestID merged in.
func (s Session) Error(msg string, fields Fields) { Error(msg, s.merge(fields)) }
