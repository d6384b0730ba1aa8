// Command server runs the full process: every component in SERVER mode,
// web and websocket transports included. SIGUSR2 restarts the component
// stack in place; SIGINT/SIGTERM stop it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/evantahler/bun-actionhero-sub001/internal/components"
	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/registry"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		observability.NewLogger("boot").Error("configuration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	logger := observability.NewLoggerWithSink(cfg.Process.Name,
		observability.ParseLevel(cfg.Logger.Level),
		observability.ParseFormat(cfg.Logger.Format),
		observability.NewStdoutSink())
	metrics := observability.NewPrometheusMetrics()

	process := registry.NewProcess(registry.NewAPI(cfg, logger, metrics))
	if err := process.Register(components.Builtin()...); err != nil {
		logger.Error("component registration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx := context.Background()
	if err := process.Start(ctx, registry.ModeServer); err != nil {
		logger.Error("start failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)

	for sig := range signals {
		if sig == syscall.SIGUSR2 {
			logger.Info("restarting", map[string]interface{}{"signal": sig.String()})
			if err := process.Restart(ctx, registry.ModeServer); err != nil {
				logger.Error("restart failed", map[string]interface{}{"error": err.Error()})
				os.Exit(1)
			}
			continue
		}

		logger.Info("stopping", map[string]interface{}{"signal": sig.String()})
		if err := process.Stop(ctx); err != nil {
			logger.Error("stop failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		return
	}
}
