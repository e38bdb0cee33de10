// Package logger builds the leveled key/value logger shared by every component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cometbft/cometbft/libs/log"
)

// Levels accepted by New.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelError = "error"
)

// New creates a logger writing TM-formatted lines to w, filtered to level.
func New(level string, w io.Writer) (log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	opt, err := log.AllowLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	return log.NewFilter(log.NewTMLogger(log.NewSyncWriter(w)), opt), nil
}

// OpenFile opens (creating parent dirs) an append-only log file.
func OpenFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
