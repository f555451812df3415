// Package logging builds the process logger. Output goes to a file, not
// stdout: the terminal belongs to the UI.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultPath returns the default log file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "go-roll.log"
	}
	return filepath.Join(home, ".config", "go-roll", "go-roll.log")
}

// New creates a file-backed logger. An empty level means info; an empty
// path means the default location. The returned close function flushes
// buffered entries.
func New(level, path string) (*zap.Logger, func(), error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, nil, fmt.Errorf("logging: bad level %q: %w", level, err)
		}
	}

	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), lvl)
	logger := zap.New(core)

	cleanup := func() {
		logger.Sync()
		f.Close()
	}
	return logger, cleanup, nil
}
