package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const logPrefix = "ariasync-"

// NewLogger returns a logger writing to a fresh timestamped file in dir and, when
// console is non-nil, to console as well. An empty dir logs to console only. The
// returned close function flushes and closes the file.
func NewLogger(dir, level string, console io.Writer) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if dir == "" {
		if console == nil {
			console = io.Discard
		}
		logger.SetOutput(console)
		return logger, func() error { return nil }, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s%s.log", logPrefix, time.Now().Format("20060102-150405.000"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	if console != nil {
		logger.SetOutput(io.MultiWriter(f, console))
	} else {
		logger.SetOutput(f)
	}
	return logger, f.Close, nil
}

// CleanupLogs keeps the newest retain log files in dir and removes the rest.
func CleanupLogs(dir string, retain int) error {
	if retain < 1 {
		retain = 1
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), logPrefix) && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= retain {
		return nil
	}
	// names embed the creation time, so lexical order is age order
	sort.Strings(logs)
	var firstErr error
	for _, name := range logs[:len(logs)-retain] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
