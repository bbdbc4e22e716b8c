// Package logger is the process-wide structured logger. It keeps a small
// key/value API on top of zap and masks contact email addresses before
// they reach the output.
package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

var (
	mu        sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	redactPII atomic.Bool
	base      = newZap(zapcore.Lock(os.Stderr))
)

func init() { redactPII.Store(true) }

func newZap(w zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { level.SetLevel(zapLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { redactPII.Store(r) }

// SetOutput redirects log output. Used by tests and by cmd/ entrypoints
// that want logs on stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newZap(zapcore.AddSync(w))
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { write(zapcore.DebugLevel, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { write(zapcore.InfoLevel, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { write(zapcore.WarnLevel, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { write(zapcore.ErrorLevel, msg, fields) }

func write(lvl zapcore.Level, msg string, kv []interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	ce := l.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(toFields(kv)...)
}

func toFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	redact := redactPII.Load()
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			fields = append(fields, zap.Any("!BADKEY", kv[i]))
			break
		}
		key := fmt.Sprintf("%v", kv[i])
		switch v := kv[i+1].(type) {
		case string:
			if redact {
				v = redactPIIValue(key, v)
			}
			fields = append(fields, zap.String(key, v))
		case error:
			s := v.Error()
			if redact {
				s = redactPIIValue(key, s)
			}
			fields = append(fields, zap.String(key, s))
		case time.Duration:
			fields = append(fields, zap.String(key, v.String()))
		case fmt.Stringer:
			s := v.String()
			if redact {
				s = redactPIIValue(key, s)
			}
			fields = append(fields, zap.String(key, s))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	return fields
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
