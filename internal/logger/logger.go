// Package logger provides structured logging for fsx
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with fsx-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "fsx").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// ExtentLogger returns a logger scoped to extent store operations.
func (l *Logger) ExtentLogger(fileID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "extentstore").
			Str("file_id", fileID).
			Logger(),
	}
}

// BranchLogger returns a logger scoped to branch-manager operations.
func (l *Logger) BranchLogger(branch string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "branch").
			Str("branch", branch).
			Logger(),
	}
}

// BlobLogger returns a logger scoped to blob-storage operations.
func (l *Logger) BlobLogger(backend string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "blob").
			Str("backend", backend).
			Logger(),
	}
}

// CatalogLogger returns a logger scoped to metadata-catalog operations.
func (l *Logger) CatalogLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "catalog").
			Str("operation", operation).
			Logger(),
	}
}

// LogFlush logs a completed extent flush with its file, extent id, page
// count and duration, or the error if the flush failed.
func (l *Logger) LogFlush(fileID string, extentID string, pageCount int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "extentstore").
		Str("file_id", fileID).
		Str("extent_id", extentID).
		Int("page_count", pageCount).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "extentstore").
			Str("file_id", fileID).
			Str("extent_id", extentID).
			Err(err)
	}

	event.Msg("extent flush completed")
}

// LogCatalogOperation logs a metadata-catalog exec with structured fields.
func (l *Logger) LogCatalogOperation(operation string, duration time.Duration, rowCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "catalog").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("row_count", rowCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "catalog").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("catalog operation completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("database", dbPath).
		Msg("fsx daemon starting")
}

// LogServerReady logs when server is ready
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("fsx daemon ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("fsx daemon shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
