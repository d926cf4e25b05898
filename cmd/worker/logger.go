package main

import (
	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
