package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/rtmond/internal/api"
	"github.com/dmdmdm-nz/rtmond/internal/monitor"
	"github.com/dmdmdm-nz/rtmond/internal/runtime"
	"github.com/dmdmdm-nz/rtmond/pkg/cli"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Infof("Config: Host=%s", cfg.Host)
	log.Infof("Config: Port=%d", cfg.Port)
	log.Infof("Config: LogLevel=%s", cfg.LogLevel)
	log.Infof("Config: Announce=%v", cfg.Announce)

	if os.Geteuid() != 0 {
		// Reading the caches works unprivileged; changing link flags needs
		// CAP_NET_ADMIN.
		log.Warn("Not running as root, link up/down requests will be rejected by the kernel")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	monitorSvc := monitor.NewService()
	apiSvc := api.NewService(cfg.Host, cfg.Port, cfg.Announce)

	// API attaches to the monitor before anything starts producing events.
	apiSvc.AttachMonitor(monitorSvc)

	// Start in dependency order: monitor → api
	super := runtime.NewSupervisor()
	super.Add("monitor", func(ctx context.Context) error { return monitorSvc.Start(ctx) }, monitorSvc.Close)
	super.Add("api", func(ctx context.Context) error { return apiSvc.Start(ctx) }, apiSvc.Close)

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor wait failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
