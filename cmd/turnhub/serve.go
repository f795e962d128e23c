package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sipeed/turnhub/pkg/config"
	"github.com/sipeed/turnhub/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the gateway's HTTP API and WhatsApp bridge",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel)

	pipeline, closer, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer closer()

	sweeper := cron.New()
	sweepSpec := cfg.Approval.SweepCron
	if sweepSpec == "" {
		sweepSpec = "*/5 * * * *"
	}
	if !gronx.IsValid(sweepSpec) {
		logger.WarnCF("serve", "invalid sweep cron expression, falling back to every 5 minutes", map[string]interface{}{"expr": sweepSpec})
		sweepSpec = "*/5 * * * *"
	}
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		n := pipeline.Approval.Sweep()
		if n > 0 {
			logger.InfoCF("serve", "swept expired pending actions", map[string]interface{}{"count": n})
		}
	}); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := buildHTTPServer(cfg, pipeline)

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	logger.InfoCF("serve", "listening", map[string]interface{}{"addr": addr})

	errCh := make(chan error, 1)
	go func() { errCh <- http.ListenAndServe(addr, server) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.InfoCF("serve", "shutting down", nil)
		return nil
	}
}
