// Package logging configures the arbor logger shared by every command.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/fakeyudi/kintoadm/internal/config"
)

// StateDir is $XDG_STATE_HOME/kintoadm, or ~/.local/state/kintoadm.
func StateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "kintoadm"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "kintoadm"), nil
}

// FilePath is the log file cfg selects.
func FilePath(cfg config.LoggingConfig) (string, error) {
	if cfg.File != "" {
		return cfg.File, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kintoadm.log"), nil
}

// New builds a logger writing to the log file. The console writer is only
// added when verbose, so log lines never mix with command output otherwise.
func New(cfg config.LoggingConfig, verbose bool) arbor.ILogger {
	logger := arbor.NewLogger()

	if path, err := FilePath(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to resolve log file: %v\n", err)
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
	} else {
		logger = logger.WithFileWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeFile,
			FileName:         path,
			TimeFormat:       "15:04:05",
			MaxSize:          10 * 1024 * 1024, // 10 MB
			MaxBackups:       3,
			OutputType:       models.OutputFormatLogfmt,
			DisableTimestamp: false,
		})
	}

	if verbose {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeConsole,
			TimeFormat:       "15:04:05",
			OutputType:       models.OutputFormatLogfmt,
			DisableTimestamp: false,
		})
	}

	level := cfg.Level
	if verbose {
		level = "debug"
	}
	if level == "" {
		level = "info"
	}
	return logger.WithLevelFromString(level)
}
