package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

var (
	logger = newLogger()

	mu         sync.Mutex
	outputFile *lumberjack.Logger
	outputPath string
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&consoleFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbose enables or disables debug logging for the current process.
func SetVerbose(enabled bool) {
	if enabled {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// SetOutputFile configures optional file logging while preserving stdout output.
// The file is rotated by lumberjack. Passing an empty path disables file logging.
func SetOutputFile(path string) error {
	path = strings.TrimSpace(path)

	mu.Lock()
	defer mu.Unlock()

	if path == outputPath {
		return nil
	}

	if err := closeLocked(); err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Open eagerly so a bad path fails here instead of on the first write.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	outputFile = &lumberjack.Logger{
		Filename:   filepath.ToSlash(path),
		MaxSize:    5, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	outputPath = path
	return nil
}

// Close flushes and closes the log file if one is configured.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeLocked()
}

func closeLocked() error {
	if outputFile == nil {
		return nil
	}
	err := outputFile.Close()
	outputFile = nil
	outputPath = ""
	return err
}

// Infof prints formatted output regardless of verbosity level.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Infoln prints output regardless of verbosity level.
func Infoln(args ...any) {
	logger.Infoln(args...)
}

// Debugf prints formatted output only when verbose mode is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// WithFields returns an entry that logs the given fields with every message.
func WithFields(fields Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

func init() {
	logger.AddHook(fileHook{})
}

// fileHook mirrors every entry into the rotating log file with timestamps.
type fileHook struct{}

var fileFormatter = &logrus.TextFormatter{
	DisableColors:   true,
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
}

func (fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (fileHook) Fire(entry *logrus.Entry) error {
	mu.Lock()
	defer mu.Unlock()
	if outputFile == nil {
		return nil
	}
	line, err := fileFormatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = outputFile.Write(line)
	return err
}

// consoleFormatter prints bare messages for info output, prefixes other
// levels, and appends fields as key=value pairs.
type consoleFormatter struct{}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	switch entry.Level {
	case logrus.InfoLevel:
	case logrus.DebugLevel, logrus.TraceLevel:
		b.WriteString("Verbose: ")
	default:
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteString(": ")
	}
	b.WriteString(strings.TrimRight(entry.Message, "\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
