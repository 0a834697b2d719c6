package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/dashboard"
	"github.com/stacklight/wabridge/pkg/logger"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/messaging/whatsapp"
	"github.com/stacklight/wabridge/pkg/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (default ~/.wabridge/config.json)")
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "export":
			outputDir := "./wabridge-export"
			if len(args) > 1 {
				outputDir = args[1]
			}
			exportCommand(configPath, outputDir)
			return
		case "version":
			fmt.Println("wabridge 0.1.0")
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			os.Exit(2)
		}
	}

	if err := run(configPath); err != nil {
		logger.CritCF("main", "Fatal error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus := bus.New()

	archive, err := storage.NewArchive(storage.Config{
		Type:        cfg.Storage.Type,
		FilePath:    cfg.Storage.FilePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
	})
	if err != nil {
		logger.WarnCF("main", "Message archive unavailable, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
		archive = nil
	} else {
		defer archive.Close()
		go storage.NewRecorder(archive, msgBus).Run(ctx)
	}

	registry := messaging.NewRegistry()
	provider := whatsapp.New("whatsapp", cfg.Bridge, msgBus)
	if err := registry.Register("whatsapp", provider); err != nil {
		return err
	}

	if err := provider.Start(ctx); err != nil {
		return fmt.Errorf("start whatsapp provider: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		registry.StopAll(stopCtx)
	}()

	go whatsapp.NewMonitor(provider, cfg.Bridge.MonitorCron).Run(ctx)

	if cfg.Dashboard.Enabled {
		token, err := config.DashboardToken()
		if err != nil {
			return fmt.Errorf("resolve dashboard token: %w", err)
		}
		srv := dashboard.NewServer(cfg.Dashboard, token, registry, archive, msgBus)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start dashboard: %w", err)
		}
		defer srv.Stop()
	}

	// Pair interactively when no session exists yet.
	if !provider.IsLoggedIn() {
		if err := pairWithQR(ctx, provider); err != nil {
			logger.WarnCF("main", "Pairing did not complete", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// An active subscription is what makes the provider pull events from the
	// bridge; the bus fan-out feeds the recorder and dashboard from it.
	events, err := provider.SubscribeEvents(ctx, nil)
	if err != nil {
		logger.WarnCF("main", "Event subscription failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		go drainEvents(events)
	}

	return runREPL(ctx, stop, provider, archive)
}

// drainEvents keeps a subscription flowing. Delivery to consumers happens on
// the bus, published by the provider itself.
func drainEvents(events <-chan messaging.Event) {
	for range events {
	}
}
