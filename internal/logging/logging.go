package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tphakala/heapbridge/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu               sync.RWMutex
	structuredLogger *slog.Logger
	consoleOutput    io.Writer = os.Stderr
	fileHandler      slog.Handler
	fileCloser       func() error

	// level is shared by every handler so SetLevel takes effect without rebuilding them
	level = new(slog.LevelVar)
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevel renders TRACE and FATAL instead of DEBUG-4 and ERROR+4
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		lvl, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		label, exists := levelNames[lvl]
		if !exists {
			label = lvl.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}
}

// Init initializes the logging system with a human-readable console logger on stderr.
// Configure adds the rotated JSON file log once settings are loaded.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	level.Set(slog.LevelInfo)
	rebuildLocked()
}

// rebuildLocked recreates the loggers from the current outputs. Caller holds mu.
func rebuildLocked() {
	console := slog.NewTextHandler(consoleOutput, handlerOptions())

	if fileHandler != nil {
		structuredLogger = slog.New(slog.NewMultiHandler(console, fileHandler))
	} else {
		structuredLogger = slog.New(console)
	}

	slog.SetDefault(structuredLogger)
}

// Configure applies log settings: the minimum level and, when enabled, a rotated
// JSON log file alongside the console output. It returns a function that closes the file.
func Configure(settings *conf.Settings) (func() error, error) {
	lvl := slog.LevelInfo
	if settings.Main.Log.Level != "" {
		parsed, err := ParseLevel(settings.Main.Log.Level)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	if settings.Debug && lvl > slog.LevelDebug {
		lvl = slog.LevelDebug
	}

	mu.Lock()
	defer mu.Unlock()

	level.Set(lvl)

	if fileCloser != nil {
		_ = fileCloser()
		fileHandler, fileCloser = nil, nil
	}

	if settings.Main.Log.Enabled {
		handler, closer, err := newRotatedHandler(settings.Main.Log.Path, settings.Main.Log)
		if err != nil {
			return nil, err
		}
		fileHandler, fileCloser = handler, closer
	}

	rebuildLocked()

	return func() error {
		mu.Lock()
		defer mu.Unlock()
		if fileCloser == nil {
			return nil
		}
		err := fileCloser()
		fileHandler, fileCloser = nil, nil
		rebuildLocked()
		return err
	}, nil
}

// ParseLevel converts a configured level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// setOutput redirects console output, e.g. to a buffer in tests.
func setOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	consoleOutput = w
	rebuildLocked()
}

// Structured returns the logger writing to the console and, when enabled, the log file.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	logger := Structured()
	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

func newRotatedHandler(filePath string, logConf conf.LogConfig) (slog.Handler, func() error, error) {
	writer, err := newRotatedWriter(filePath, logConf)
	if err != nil {
		return nil, nil, err
	}
	return slog.NewJSONHandler(writer, handlerOptions()), writer.Close, nil
}

// newRotatedWriter maps the configured rotation policy onto lumberjack limits
func newRotatedWriter(filePath string, logConf conf.LogConfig) (*lumberjack.Logger, error) {
	// lumberjack doesn't create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	if configMaxSizeMB := int(logConf.MaxSize / (1024 * 1024)); configMaxSizeMB > 0 {
		maxSizeMB = configMaxSizeMB
	}

	switch logConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", logConf.Rotation)
	}

	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
	}, nil
}
