package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("ctrl:\n  path: /var/run/wpa_supplicant/p2p-dev-wlan0\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Ctrl.Type != "unix" {
		t.Errorf("ctrl.type = %q, want unix", cfg.Ctrl.Type)
	}
	if cfg.P2P.MaxGroups != 32 {
		t.Errorf("max_groups = %d, want 32", cfg.P2P.MaxGroups)
	}
	if cfg.P2P.FindTimeout != 120 {
		t.Errorf("find_timeout = %d, want 120", cfg.P2P.FindTimeout)
	}
	if cfg.invitationTTL != 2*time.Minute {
		t.Errorf("invitationTTL = %v, want 2m", cfg.invitationTTL)
	}
	if *cfg.Web.CommandRate != 2 {
		t.Errorf("command_rate = %v, want 2", *cfg.Web.CommandRate)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
	if cfg.Store.Path != "p2p-home.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.MQTT.TopicPrefix != "p2p2mqtt" {
		t.Errorf("topic_prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if got := cfg.transport(); got != "unix /var/run/wpa_supplicant/p2p-dev-wlan0" {
		t.Errorf("transport = %q", got)
	}
}

func TestParseConfigExplicitZeroRate(t *testing.T) {
	cfg, err := parseConfig([]byte("ctrl:\n  path: /tmp/p2p\nweb:\n  command_rate: 0\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if *cfg.Web.CommandRate != 0 {
		t.Errorf("command_rate = %v, want 0 (disabled)", *cfg.Web.CommandRate)
	}
}

func TestParseConfigSerial(t *testing.T) {
	cfg, err := parseConfig([]byte("ctrl:\n  type: serial\n  port: /dev/ttyUSB0\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Ctrl.Baud != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Ctrl.Baud)
	}
	if got := cfg.transport(); got != "serial /dev/ttyUSB0@115200" {
		t.Errorf("transport = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown type", "ctrl:\n  type: tcp\n  path: x\n", "unknown ctrl.type"},
		{"unix without path", "ctrl:\n  type: unix\n", "ctrl.path"},
		{"serial without port", "ctrl:\n  type: serial\n", "ctrl.port"},
		{"negative groups", "ctrl:\n  path: x\np2p:\n  max_groups: -1\n", "max_groups"},
		{"bad ttl", "ctrl:\n  path: x\np2p:\n  invitation_ttl: soon\n", "invitation_ttl"},
		{"negative rate", "ctrl:\n  path: x\nweb:\n  command_rate: -1\n", "command_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("parseConfig: %v", err)
			}
			err = cfg.validate()
			if err == nil {
				t.Fatal("validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseConfigInvalidYAML(t *testing.T) {
	if _, err := parseConfig([]byte("ctrl: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
