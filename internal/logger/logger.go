package logger

import (
	"log/slog"
	"os"
)

// Init routes the default slog logger to a file so the TUI owns the terminal.
func Init(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(file, nil)))
	return nil
}
