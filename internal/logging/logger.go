// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/config"
)

// New builds the process logger from cfg. production selects the defaults for anything cfg
// leaves empty: info level, JSON encoding and the rotating file sink.
func New(cfg config.LoggingConfig, production bool) (*zap.Logger, error) {
	return build(cfg, production, zapcore.Lock(os.Stdout))
}

func build(cfg config.LoggingConfig, production bool, console zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := resolveLevel(cfg.Level, production)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format, production, true), console, level))
	}
	if fileEnabled(cfg.File, production) {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("logging.file.path is required when the file sink is enabled")
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
		// files are always structured so they can be shipped without reparsing
		cores = append(cores, zapcore.NewCore(newEncoder("json", production, false), sink, level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if !production {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func resolveLevel(raw string, production bool) (zapcore.Level, error) {
	if strings.TrimSpace(raw) == "" {
		if production {
			return zapcore.InfoLevel, nil
		}
		return zapcore.DebugLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse logging.level: %w", err)
	}
	return level, nil
}

func fileEnabled(cfg config.FileLogConfig, production bool) bool {
	if cfg.Enabled != nil {
		return *cfg.Enabled
	}
	return production
}

func newEncoder(format string, production, color bool) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	if !production {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "" {
		format = "json"
		if !production {
			format = "console"
		}
	}
	if format == "console" {
		if color {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		return zapcore.NewConsoleEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(encCfg)
}
