package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

// FileName is the active log file inside Config.LogDir. Rotated backups are
// named by lumberjack with a timestamp suffix.
const FileName = "genie.log"

// Logger writes leveled printf-style messages to a rotated file
type Logger struct {
	mu       sync.RWMutex
	level    Level
	closer   io.Closer
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
	MaxSizeMB     int
	// Stderr mirrors every line to standard error (CLI use)
	Stderr bool
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		LogDir:        defaultLogDir(),
		Level:         INFO,
		RetentionDays: 7,
		MaxSizeMB:     10,
	}
}

func defaultLogDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "genie", "logs")
}

// New creates a logger writing to LogDir/genie.log
func New(config Config) (*Logger, error) {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:  filepath.Join(config.LogDir, FileName),
		MaxSize:   config.MaxSizeMB,
		MaxAge:    config.RetentionDays,
		LocalTime: true,
	}

	var w io.Writer = rotator
	if config.Stderr {
		w = io.MultiWriter(rotator, os.Stderr)
	}

	l := NewWriter(w, config.Level)
	l.closer = rotator
	return l, nil
}

// NewWriter creates a logger writing to an arbitrary writer
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		level:    level,
		infoLog:  log.New(w, "[INFO] ", log.LstdFlags),
		warnLog:  log.New(w, "[WARN] ", log.LstdFlags),
		errorLog: log.New(w, "[ERROR] ", log.LstdFlags),
		debugLog: log.New(w, "[DEBUG] ", log.LstdFlags),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWriter(io.Discard, ERROR+1)
}

func (l *Logger) logf(level Level, target *log.Logger, format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.RLock()
	enabled := l.level <= level
	l.mu.RUnlock()

	if enabled {
		target.Printf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l != nil {
		l.logf(DEBUG, l.debugLog, format, v...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	if l != nil {
		l.logf(INFO, l.infoLog, format, v...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	if l != nil {
		l.logf(WARN, l.warnLog, format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l != nil {
		l.logf(ERROR, l.errorLog, format, v...)
	}
}

// Close closes the underlying log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.level
}
