package log

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/lumberjack/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const runTimestampLayout = "20060102_150405"

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// InitLog builds the process logger: console output on stdout plus, when
// logDir is set, an append-only per-run file named host-mover_<timestamp>.log.
// The returned logger is also installed as the zap global so packages can use
// zap.S().Named(...).
func InitLog(lvl zap.AtomicLevel, logDir string) (*zap.Logger, error) {
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", logDir, err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, fmt.Sprintf("host-mover_%s.log", time.Now().Format(runTimestampLayout))),
			MaxSize:    100, // megabytes
			MaxBackups: 2,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(writer), lvl))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.DPanicLevel))
	zap.ReplaceGlobals(logger)
	return logger, nil
}
