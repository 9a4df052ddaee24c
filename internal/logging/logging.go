// Package logging configures the process-wide logrus logger and exposes a thin
// facade so packages can import it as `log`.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the rotated log file written when file logging is enabled.
const LogFileName = "copilot-gateway.log"

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders entries as "[time] [level] message key=value".
type LogFormatter struct{}

func (f *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	fmt.Fprintf(b, "[%s] [%s] %s", timestamp, level, strings.TrimRight(entry.Message, "\n"))

	for _, key := range sortedKeys(entry.Data) {
		fmt.Fprintf(b, " %s=%v", key, entry.Data[key])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SetupBaseLogger installs the formatter and stdout output. Safe to call more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		logrus.SetFormatter(&LogFormatter{})
		logrus.SetOutput(os.Stdout)
		logrus.SetLevel(logrus.InfoLevel)
	})
}

// SetDebug toggles debug level logging.
func SetDebug(enabled bool) {
	if enabled {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetLevel(logrus.InfoLevel)
}

// ConfigureLogOutput switches between stdout and a rotated file under dir.
func ConfigureLogOutput(toFile bool, dir string) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !toFile {
		if fileWriter != nil {
			_ = fileWriter.Close()
			fileWriter = nil
		}
		logrus.SetOutput(os.Stdout)
		return nil
	}

	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, LogFileName),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

func Debugf(format string, args ...any) { logrus.Debugf(format, args...) }
func Infof(format string, args ...any)  { logrus.Infof(format, args...) }
func Warnf(format string, args ...any)  { logrus.Warnf(format, args...) }
func Errorf(format string, args ...any) { logrus.Errorf(format, args...) }
func Fatalf(format string, args ...any) { logrus.Fatalf(format, args...) }

func Debug(args ...any) { logrus.Debug(args...) }
func Info(args ...any)  { logrus.Info(args...) }
func Warn(args ...any)  { logrus.Warn(args...) }
func Error(args ...any) { logrus.Error(args...) }

func WithError(err error) *logrus.Entry             { return logrus.WithError(err) }
func WithField(key string, value any) *logrus.Entry { return logrus.WithField(key, value) }
func WithFields(fields logrus.Fields) *logrus.Entry { return logrus.WithFields(fields) }

// IsDebug reports whether debug logging is active.
func IsDebug() bool { return logrus.IsLevelEnabled(logrus.DebugLevel) }
