// Package util provides low-level helpers shared by all other packages.
package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Records are emitted through logrus so the file
// appender and the terminal share one formatter.
type Logger struct {
	level  LogLevel
	log    *logrus.Logger
	format *lineFormatter

	mu   sync.Mutex
	out  io.Writer
	file *lumberjack.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	f := &lineFormatter{}
	f.timestamps = verbosity >= 3 // auto-enable timestamps in debug mode

	lg := logrus.New()
	lg.SetOutput(os.Stderr)
	lg.SetFormatter(f)
	lg.SetLevel(logrus.TraceLevel) // gating happens on l.level

	return &Logger{
		level:  LogLevel(verbosity),
		log:    lg,
		format: f,
		out:    os.Stderr,
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.format.mu.Lock()
	l.format.timestamps = on
	l.format.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.apply()
}

// AddFile mirrors every record into a size-rotated log file.
func (l *Logger) AddFile(path string, maxSizeMB, maxBackups int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close() //nolint:errcheck
	}
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB, // megabytes
		MaxBackups: maxBackups,
		Compress:   true,
	}
	l.apply()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.apply()
	return err
}

// apply must be called with l.mu held.
func (l *Logger) apply() {
	if l.file != nil {
		l.log.SetOutput(io.MultiWriter(l.out, l.file))
		return
	}
	l.log.SetOutput(l.out)
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.log.Logf(logrus.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.log.Logf(logrus.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.log.Logf(logrus.DebugLevel, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.log.Logf(logrus.TraceLevel, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.log.Logf(logrus.ErrorLevel, format, args...)
}

// ── formatter ────────────────────────────────────────────────────────

// lineFormatter renders "[INF] msg" or "15:04:05.000 [INF] msg".
type lineFormatter struct {
	mu         sync.Mutex
	timestamps bool
}

var levelTags = map[logrus.Level]string{
	logrus.PanicLevel: "ERR",
	logrus.FatalLevel: "ERR",
	logrus.ErrorLevel: "ERR",
	logrus.WarnLevel:  "WRN",
	logrus.InfoLevel:  "INF",
	logrus.DebugLevel: "VRB",
	logrus.TraceLevel: "DBG",
}

func (f *lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	f.mu.Lock()
	ts := f.timestamps
	f.mu.Unlock()

	var b bytes.Buffer
	if ts {
		fmt.Fprintf(&b, "%s ", e.Time.Format("15:04:05.000"))
	}
	fmt.Fprintf(&b, "[%s] %s\n", levelTags[e.Level], e.Message)
	return b.Bytes(), nil
}
