package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-bcm-server/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "bcm-server")
	logging.Set(l)
	return l
}
