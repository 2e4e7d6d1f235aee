package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	tmlog "github.com/tendermint/tendermint/libs/log"
)

const DefaultLevel = "info"

var (
	customLog = mustLogger(os.Stdout, DefaultLevel)
	mu        sync.RWMutex
)

type logger struct {
	out   io.Writer
	level string
	tm    tmlog.Logger
	file  *os.File
	dir   string
}

func newLogger(out io.Writer, level string) (logger, error) {
	option, err := tmlog.AllowLevel(level)
	if err != nil {
		return logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return logger{
		out:   out,
		level: level,
		tm:    tmlog.NewFilter(tmlog.NewTMLogger(tmlog.NewSyncWriter(out)), option),
	}, nil
}

func mustLogger(out io.Writer, level string) logger {
	l, err := newLogger(out, level)
	if err != nil {
		panic(err)
	}
	return l
}

// InitLogger points the global logger at stdout with the default level.
func InitLogger() {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	customLog = mustLogger(os.Stdout, DefaultLevel)
}

// SetLevel changes the minimum level ("debug", "info", "error", "none").
func SetLevel(level string) error {
	mu.Lock()
	defer mu.Unlock()

	l, err := newLogger(customLog.out, level)
	if err != nil {
		return err
	}
	l.file, l.dir = customLog.file, customLog.dir
	customLog = l

	return nil
}

// SetOutput redirects the global logger, keeping the current level.
func SetOutput(out io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	customLog = mustLogger(out, customLog.level)
}

// ResetLogger moves all further output to a per-process file under
// <oracleHome>/logs.
func ResetLogger(oracleHome string) error {
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(oracleHome, "logs")
	if oracleHome == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(osHome, ".oracled", "logs")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	customLog.tm.Info(fmt.Sprintf("From now on, all logs will be written to %s", path))

	l, err := newLogger(file, customLog.level)
	if err != nil {
		file.Close()
		return err
	}
	closeFile()
	l.file, l.dir = file, dir
	customLog = l

	return nil
}

// Dir returns the log directory, empty when logging to a stream.
func Dir() string {
	mu.RLock()
	defer mu.RUnlock()

	return customLog.dir
}

// Logger exposes the underlying structured logger for key/value logging.
func Logger() tmlog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return customLog.tm
}

func closeFile() {
	if customLog.file != nil {
		_ = customLog.file.Close()
		customLog.file = nil
		customLog.dir = ""
	}
}

func current() tmlog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return customLog.tm
}

func Debug(v ...any) {
	current().Debug(fmt.Sprint(v...))
}

func Debugf(format string, v ...any) {
	current().Debug(fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	current().Info(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	current().Info(fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	current().Error(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
}

func Fatal(v ...any) {
	current().Error(fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}
