/**
 * Structured logging for docprocd, built on zap.
 */

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root zap logger for the process. logPath, when non-empty,
// additionally writes to that file; logLevel parses as a zap level name
// ("debug", "info", "warn", "error"), defaulting to info on a bad value.
func New(logPath, logLevel string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(logLevel))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(consoleWriter())), level),
	}

	if logPath != "" {
		sink, _, err := zap.Open(logPath)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

// Named returns a child logger scoped to the given component, matching the
// teacher's per-component prefixed-logger convention.
func Named(base *zap.Logger, component string) *zap.Logger {
	return base.Named(component)
}
