// Package log provides the control plane's structured logger: zap writing
// JSON lines to a lumberjack-rotated file under state.LogsDir, generalizing
// the teacher's debug_log.go (a plain env-gated append-only file) to a
// structured, size-rotated sink (grounded on the recorder package's
// lumberjack.Logger usage in the penglongli-accelerboat reference file).
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 64
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

// New builds a zap.Logger that writes JSON lines to path, rotated by
// lumberjack, and also echoes to stderr. Both sinks log at Info level and
// above, or Debug and above when debug is set. path==""
// disables the file sink and logs to stderr only.
func New(path string, debug bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}

	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(lj), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// Nop returns a logger that discards everything, for tests that don't want
// log noise but still need a *zap.Logger to satisfy a constructor.
func Nop() *zap.Logger {
	return zap.NewNop()
}
