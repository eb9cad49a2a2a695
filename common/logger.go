package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name from the config file or command line.
// Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// AppLogger is a leveled logger that writes to stderr and, optionally,
// to a size-rotated file in the config directory.
type AppLogger struct {
	mu         sync.Mutex
	level      LogLevel
	out        *log.Logger
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	// quiet drops the stderr copy while a full-screen UI owns the terminal.
	quiet bool
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string // defaults to LogDir()
	MaxFileSize int64  // bytes, default 5MB
	MaxBackups  int    // rotated files to keep, default 5
}

const (
	defaultMaxFileSize = 5 * 1024 * 1024
	defaultMaxBackups  = 5
)

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AppLogger{
			level:      LevelInfo,
			out:        log.New(os.Stderr, "", 0),
			maxSize:    defaultMaxFileSize,
			maxBackups: defaultMaxBackups,
		}
	})
	return defaultLogger
}

// InitLogger applies config to the process-wide logger.
// Call it once, early in startup.
func InitLogger(config LogConfig) error {
	l := GetLogger()
	l.SetLevel(config.Level)

	l.mu.Lock()
	if config.MaxFileSize > 0 {
		l.maxSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		l.maxBackups = config.MaxBackups
	}
	l.mu.Unlock()

	if !config.EnableFile {
		return nil
	}
	dir := config.Dir
	if dir == "" {
		dir = LogDir()
	}
	return l.OpenFile(dir)
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the minimum log level.
func (l *AppLogger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// OpenFile starts mirroring log lines to LogFileName inside dir.
// The file is rotated first when it has outgrown the size limit.
func (l *AppLogger) OpenFile(dir string) error {
	if isSymlink(dir) {
		return fmt.Errorf("refusing to log into symlinked directory %s", dir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path := filepath.Join(dir, LogFileName)
	if isSymlink(path) {
		return fmt.Errorf("refusing to log into symlinked file %s", path)
	}

	l.mu.Lock()
	limit, keep := l.maxSize, l.maxBackups
	l.mu.Unlock()
	rotateIfLarge(path, limit, keep)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.filePath = path
	l.resetOutput()
	return nil
}

// SetQuiet stops (or resumes) writing log lines to stderr. The log file,
// if open, keeps receiving them.
func (l *AppLogger) SetQuiet(quiet bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quiet = quiet
	l.resetOutput()
}

// resetOutput must be called with mu held.
func (l *AppLogger) resetOutput() {
	var w io.Writer = os.Stderr
	switch {
	case l.quiet && l.file != nil:
		w = l.file
	case l.quiet:
		w = io.Discard
	case l.file != nil:
		w = io.MultiWriter(os.Stderr, l.file)
	}
	l.out = log.New(w, "", 0)
}

// CheckRotation rotates the log file if it has outgrown the size limit.
// Long-running modes call it periodically.
func (l *AppLogger) CheckRotation() {
	l.mu.Lock()
	path, limit := l.filePath, l.maxSize
	l.mu.Unlock()
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() < limit {
		return
	}

	l.mu.Lock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.resetOutput()
	l.mu.Unlock()

	if err := l.OpenFile(filepath.Dir(path)); err != nil {
		l.Warn("Could not reopen log file after rotation: %v", err)
	}
}

// Close closes the log file.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.resetOutput()
	return err
}

func (l *AppLogger) write(level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	min := l.level
	l.mu.Unlock()
	if level < min {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}

	line := fmt.Sprintf("%s [%s] %s: %s",
		time.Now().Format("2006/01/02 15:04:05"), level, caller, text)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Println(line)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) { l.write(LevelDebug, msg, args...) }

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) { l.write(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) { l.write(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) { l.write(LevelError, msg, args...) }

// Shorthand functions for the process-wide logger.

func LogDebug(msg string, args ...interface{}) { GetLogger().write(LevelDebug, msg, args...) }
func LogInfo(msg string, args ...interface{})  { GetLogger().write(LevelInfo, msg, args...) }
func LogWarn(msg string, args ...interface{})  { GetLogger().write(LevelWarn, msg, args...) }
func LogError(msg string, args ...interface{}) { GetLogger().write(LevelError, msg, args...) }

// CloseLogger closes the process-wide logger's file.
func CloseLogger() error {
	return GetLogger().Close()
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// rotateIfLarge gzips path into a timestamped backup once it reaches limit
// bytes, then prunes backups beyond keep.
func rotateIfLarge(path string, limit int64, keep int) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < limit {
		return
	}

	backup := fmt.Sprintf("%s.%s.gz", path, time.Now().Format("20060102-150405"))
	if err := gzipFile(path, backup); err != nil {
		os.Rename(path, strings.TrimSuffix(backup, ".gz"))
	} else {
		os.Remove(path)
	}

	pruneBackups(path, keep)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func pruneBackups(path string, keep int) {
	matches, err := filepath.Glob(path + ".*")
	if err != nil || len(matches) <= keep {
		return
	}

	modTime := func(p string) time.Time {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}
		}
		return info.ModTime()
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]).Before(modTime(matches[j]))
	})

	for _, old := range matches[:len(matches)-keep] {
		os.Remove(old)
	}
}
