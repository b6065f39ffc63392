//go:build no_automation

package main

import (
	"log/slog"

	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *manager.Manager, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
