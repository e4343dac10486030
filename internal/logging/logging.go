package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskingbot-bridge/internal/config"
)

// Options selects where log output goes.
type Options struct {
	// Stdio is set when stdout/stderr carry the MCP protocol; output then goes
	// only to the configured log file, or nowhere.
	Stdio bool
	// Level overrides the configured level when non-empty.
	Level string
}

// New builds the process logger. The returned close function flushes and
// releases the log file.
func New(cfg config.ServerConfig, opts Options) (*zap.Logger, func(), error) {
	level := parseLevel(coalesce(opts.Level, cfg.LogLevel))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	var file *os.File
	switch {
	case cfg.LogFile != "" && opts.Stdio:
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// stderr belongs to the protocol; drop logs rather than corrupt it
			return zap.NewNop(), func() {}, nil
		}
		file = f
		sink = zapcore.AddSync(f)
	case opts.Stdio:
		return zap.NewNop(), func() {}, nil
	default:
		sink = zapcore.Lock(os.Stderr)
	}

	var encoder zapcore.Encoder
	if file != nil {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller()).
		With(zap.String("service", cfg.Name))

	closeFn := func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return logger, closeFn, nil
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
