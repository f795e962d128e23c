// Package logger provides the component-tagged, field-structured logging
// convention used throughout this repository, backed by zap.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	base = mustBuild("info")
}

func mustBuild(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), lvl)
	return zap.New(core)
}

// Configure swaps the process-wide logger's minimum level. Valid values are
// zap's standard level names: debug, info, warn, error.
func Configure(level string) {
	mu.Lock()
	defer mu.Unlock()
	base = mustBuild(level)
}

func fieldsToZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// DebugCF logs a debug-level message tagged with its originating component.
func DebugCF(component, msg string, fields map[string]interface{}) {
	logger().Debug(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// InfoCF logs an info-level message tagged with its originating component.
func InfoCF(component, msg string, fields map[string]interface{}) {
	logger().Info(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// WarnCF logs a warn-level message tagged with its originating component.
func WarnCF(component, msg string, fields map[string]interface{}) {
	logger().Warn(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// ErrorCF logs an error-level message tagged with its originating component.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	logger().Error(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// Sync flushes buffered log entries; call before process exit.
func Sync() error {
	return logger().Sync()
}
