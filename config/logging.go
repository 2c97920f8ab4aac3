package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// SetupLogging configures the global logger. With an empty path logs go to
// stderr, as text when it is a terminal and JSON otherwise.
func SetupLogging(level, path string) (func() error, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(lvl)

	if path == "" {
		logrus.SetOutput(os.Stderr)
		if term.IsTerminal(int(os.Stderr.Fd())) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(f)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	return f.Close, nil
}

func parseLogLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "":
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}
