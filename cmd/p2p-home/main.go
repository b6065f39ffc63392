package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"p2p-go-home/internal/ctrl"
	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/p2p"
	"p2p-go-home/internal/store"
	"p2p-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Ctrl struct {
		Type string `yaml:"type"` // "unix" or "serial"
		Path string `yaml:"path"`
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"ctrl"`
	P2P struct {
		MaxGroups     int    `yaml:"max_groups"`
		FindTimeout   int    `yaml:"find_timeout"`
		InvitationTTL string `yaml:"invitation_ttl"`
	} `yaml:"p2p"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		CommandRate    *float64 `yaml:"command_rate"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	DevicesDir string `yaml:"devices_dir"`
	ScriptsDir string `yaml:"scripts_dir"`

	invitationTTL time.Duration
}

func (c *Config) validate() error {
	switch c.Ctrl.Type {
	case "unix":
		if c.Ctrl.Path == "" {
			return fmt.Errorf("ctrl.path is required for unix")
		}
	case "serial":
		if c.Ctrl.Port == "" {
			return fmt.Errorf("ctrl.port is required for serial")
		}
	default:
		return fmt.Errorf("unknown ctrl.type: %q (supported: unix, serial)", c.Ctrl.Type)
	}
	if c.P2P.MaxGroups < 1 {
		return fmt.Errorf("p2p.max_groups must be at least 1, got %d", c.P2P.MaxGroups)
	}
	if c.P2P.FindTimeout < 0 {
		return fmt.Errorf("p2p.find_timeout must not be negative")
	}
	d, err := time.ParseDuration(c.P2P.InvitationTTL)
	if err != nil || d <= 0 {
		return fmt.Errorf("p2p.invitation_ttl must be a positive duration, got %q", c.P2P.InvitationTTL)
	}
	c.invitationTTL = d
	if *c.Web.CommandRate < 0 {
		return fmt.Errorf("web.command_rate must not be negative")
	}
	return nil
}

// transport describes the control connection for /api/info.
func (c *Config) transport() string {
	if c.Ctrl.Type == "serial" {
		return fmt.Sprintf("serial %s@%d", c.Ctrl.Port, c.Ctrl.Baud)
	}
	return "unix " + c.Ctrl.Path
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("p2p-go-home starting", "version", version)

	// Device type catalog: built-in categories plus JSON overrides.
	catalog := p2p.NewCatalog()
	if err := manager.LoadCatalogDir(cfg.DevicesDir, catalog, logger); err != nil {
		logger.Error("load device types", "err", err)
		os.Exit(1)
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	conn, err := openCtrl(cfg, logger)
	if err != nil {
		logger.Error("open control interface", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	events := manager.NewEventBus(logger)
	mgr, err := manager.New(conn, db, catalog, events, manager.Config{
		MaxGroups:     cfg.P2P.MaxGroups,
		FindTimeout:   cfg.P2P.FindTimeout,
		InvitationTTL: cfg.invitationTTL,
		Transport:     cfg.transport(),
	}, logger)
	if err != nil {
		logger.Error("create manager", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("start manager", "err", err)
		cancel()
		conn.Close()
		os.Exit(1)
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(mgr, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	rps := *cfg.Web.CommandRate
	webOpts = append(webOpts, web.WithCommandRate(rps, int(2*rps)))
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(mgr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(mgr, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mgr.Stop()

	logger.Info("goodbye")
}

func openCtrl(cfg *Config, logger *slog.Logger) (ctrl.Conn, error) {
	switch cfg.Ctrl.Type {
	case "unix":
		logger.Info("using unix control socket", "path", cfg.Ctrl.Path)
		conn, err := ctrl.DialUnix(cfg.Ctrl.Path, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "serial":
		logger.Info("using serial console", "port", cfg.Ctrl.Port, "baud", cfg.Ctrl.Baud)
		conn, err := ctrl.OpenSerial(cfg.Ctrl.Port, cfg.Ctrl.Baud, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown ctrl type: %q", cfg.Ctrl.Type)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Ctrl.Type == "" {
		cfg.Ctrl.Type = "unix"
	}
	if cfg.Ctrl.Baud == 0 {
		cfg.Ctrl.Baud = 115200
	}
	if cfg.P2P.MaxGroups == 0 {
		cfg.P2P.MaxGroups = 32
	}
	if cfg.P2P.FindTimeout == 0 {
		cfg.P2P.FindTimeout = 120
	}
	if cfg.P2P.InvitationTTL == "" {
		cfg.P2P.InvitationTTL = "2m"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Web.CommandRate == nil {
		rate := 2.0
		cfg.Web.CommandRate = &rate
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "p2p-home.db"
	}
	if cfg.DevicesDir == "" {
		cfg.DevicesDir = "devices"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "p2p2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
