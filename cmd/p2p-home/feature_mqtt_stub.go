//go:build no_mqtt

package main

import (
	"log/slog"

	"p2p-go-home/internal/manager"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *manager.Manager, cfg *Config, logger *slog.Logger) *mqttStopper {
	if cfg.MQTT.Enabled {
		logger.Warn("mqtt enabled in config but not compiled in")
	}
	return &mqttStopper{}
}
