// Command sandboxd is the daemon entrypoint: it loads configuration,
// wires the core packages together, reloads any sandboxes left behind
// by a previous run, and serves the HTTP collaborator surface until
// told to shut down.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/sandboxd/internal/api"
	"github.com/opensandbox/sandboxd/internal/artifact"
	"github.com/opensandbox/sandboxd/internal/capacity"
	"github.com/opensandbox/sandboxd/internal/config"
	"github.com/opensandbox/sandboxd/internal/metrics"
	"github.com/opensandbox/sandboxd/internal/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandboxd: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "sandboxd: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	layout := artifact.New(cfg)
	if err := layout.EnsureDirs(); err != nil {
		log.WithError(err).Fatal("failed to create state directories")
	}

	mgr := sandbox.NewManager(cfg, layout, log.WithField("component", "sandbox"))
	if err := mgr.ReloadOnStartup(); err != nil {
		log.WithError(err).Fatal("failed to reload sandbox state")
	}

	accountant := capacity.New(cfg, mgr)
	mgr.SetAdmitter(accountant)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.StartMetricsServer(cfg.MetricsAddr)
		defer metricsSrv.Close()
		log.WithField("addr", cfg.MetricsAddr).Info("metrics server started")
	}

	server := api.NewServer(mgr, accountant, cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.WithField("addr", addr).Info("sandboxd starting")

	go func() {
		if err := server.Start(addr); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}()

	<-quit
	log.Info("sandboxd shutting down")
	if err := server.Close(); err != nil {
		log.WithError(err).Error("error closing http server")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
