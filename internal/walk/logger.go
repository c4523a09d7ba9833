package rawls

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the verbosity of the debug logger.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel accepts debug, info, warn and error in any case.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "", "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogFormat selects how diagnostics are rendered.
type LogFormat int

const (
	LogFormatPlain LogFormat = iota // "skipping: <path>" lines
	LogFormatJSON                   // one JSON object per diagnostic
)

// ParseLogFormat accepts plain (or text) and json.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "", "plain", "text":
		return LogFormatPlain, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatPlain, fmt.Errorf("unknown log format %q", s)
	}
}

// createLogger creates a zap logger with the specified log level. It writes
// to stderr; stdout is reserved for records.
func createLogger(level LogLevel) *zap.Logger {
	var config zap.Config

	switch level {
	case LogLevelError:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case LogLevelWarn:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case LogLevelDebug:
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewLogger returns the leveled logger used for debug tracing.
func NewLogger(level LogLevel) *zap.Logger {
	return createLogger(level)
}

// Diagnostics reports per-entry conditions that do not stop a run:
// device-boundary skips, failed opens and failed metadata lookups.
//
// In plain format each diagnostic is a single bare line, e.g.
//
//	skipping: /home/user/mnt
//	error: /home/user/private open: permission denied
type Diagnostics struct {
	log   *zap.Logger
	plain bool
}

// NewDiagnostics writes diagnostics to w. A nil w means stderr.
func NewDiagnostics(w io.Writer, format LogFormat) *Diagnostics {
	var ws zapcore.WriteSyncer
	if w == nil {
		ws = zapcore.Lock(os.Stderr)
	} else {
		ws = zapcore.AddSync(w)
	}

	var enc zapcore.Encoder
	if format == LogFormatJSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		enc = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "msg",
			LineEnding: zapcore.DefaultLineEnding,
		})
	}

	core := zapcore.NewCore(enc, ws, zapcore.DebugLevel)
	return &Diagnostics{log: zap.New(core), plain: format != LogFormatJSON}
}

// Skipping reports a directory left out because it is on another device.
func (d *Diagnostics) Skipping(path string) {
	if d.plain {
		d.log.Info("skipping: " + path)
		return
	}
	d.log.Info("skipping", zap.String("path", path))
}

// Error reports a failure concerning path. err should not repeat the path.
func (d *Diagnostics) Error(path string, err error) {
	if d.plain {
		d.log.Info("error: " + path + " " + err.Error())
		return
	}
	d.log.Error("error", zap.String("path", path), zap.Error(err))
}

// Removed reports an entry that disappeared while being watched.
func (d *Diagnostics) Removed(path string) {
	if d.plain {
		d.log.Info("removed: " + path)
		return
	}
	d.log.Info("removed", zap.String("path", path))
}

// Sync flushes buffered diagnostics.
func (d *Diagnostics) Sync() error {
	return d.log.Sync()
}
