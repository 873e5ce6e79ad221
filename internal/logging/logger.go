// Package logging provides categorized zap-based logging for roadtest.
// Logs are written per category under <data_dir>/logs with an optional
// console mirror. Initialize must be called once at startup with the data
// directory; before that, loggers fall back to a no-op core so packages can
// log unconditionally.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup and wiring
	CategoryDevice    Category = "device"    // adb transport, primitives
	CategoryVision    Category = "vision"    // OCR, grid detection, model locator
	CategoryVerify    Category = "verify"    // SSIM, pixel diff, diagnostics
	CategoryKnowledge Category = "knowledge" // test cases, learned solutions, profiles
	CategoryGraph     Category = "graph"     // node transitions, guards
	CategoryAgent     Category = "agent"     // orchestrator lifecycle
	CategoryHistory   Category = "history"   // run/step records
	CategoryModel     Category = "model"     // multimodal model calls
	CategoryCLI       Category = "cli"       // command surface
)

var (
	mu        sync.RWMutex
	loggers   = make(map[Category]*zap.SugaredLogger)
	logsDir   string
	level     = zapcore.InfoLevel
	toConsole bool
)

// Options controls logger construction.
type Options struct {
	Debug   bool // log at debug level
	Console bool // mirror to stderr in addition to the category file
}

// Initialize sets up the logging directory. Safe to call once; later calls
// replace the configuration and drop cached loggers.
func Initialize(dataDir string, opts Options) error {
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	logsDir = dir
	toConsole = opts.Console
	if opts.Debug {
		level = zapcore.DebugLevel
	} else {
		level = zapcore.InfoLevel
	}
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := build(cat)
	loggers[cat] = l
	return l
}

func build(cat Category) *zap.SugaredLogger {
	if logsDir == "" {
		return zap.NewNop().Sugar()
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := make([]zapcore.Core, 0, 2)

	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(f),
			level,
		))
	}
	if toConsole {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}
	if len(cores) == 0 {
		return zap.NewNop().Sugar()
	}

	return zap.New(zapcore.NewTee(cores...)).
		With(zap.String("cat", string(cat))).
		Sugar()
}

// Sync flushes all cached loggers. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
}
