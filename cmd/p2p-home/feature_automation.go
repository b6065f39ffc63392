//go:build !no_automation

package main

import (
	"log/slog"

	"p2p-go-home/internal/automation"
	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(mgr *manager.Manager, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scripts, err := automation.NewScriptStore(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script store", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(mgr, scripts, logger)
	engine.Start()

	opts := []web.ServerOption{
		web.WithAutomation(engine, scripts),
	}
	return &autoStopper{engine: engine}, opts
}
