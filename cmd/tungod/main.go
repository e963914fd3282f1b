// Command tungod is the server entry point (§12.3), mirroring the teacher's
// main.go + presentation.StartServer: resolve configuration, wire the
// registered component classes, and hand off to the supervisor.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"tunnelcore/application/addon"
	addresspoolport "tunnelcore/application/addresspool"
	applink "tunnelcore/application/link"
	"tunnelcore/application/rewriter"
	"tunnelcore/application/tun"
	"tunnelcore/domain/app"
	"tunnelcore/domain/mode"
	"tunnelcore/infrastructure/addresspool"
	"tunnelcore/infrastructure/bootstrap"
	"tunnelcore/infrastructure/logging"
	"tunnelcore/infrastructure/settings"
	"tunnelcore/infrastructure/supervisor"
	"tunnelcore/infrastructure/transport/tcp"
	"tunnelcore/infrastructure/transport/udp"
	"tunnelcore/infrastructure/tundevice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.Name, err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewStdLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	addonFactories, err := bootstrap.ResolveAddons(cfg.Addons)
	if err != nil {
		return err
	}
	rewriters, err := bootstrap.ResolveRewriters(cfg.Rewriters)
	if err != nil {
		return err
	}

	deviceManager := tundevice.NewManager(cfg.MTU)

	logger.Printf("%s: starting server (%s port %d, network %s)", app.Name, cfg.Protocol, cfg.Port, cfg.Network)

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("%s: interrupt received, shutting down", app.Name)
		cancel()
	}()

	sup := supervisor.New(supervisor.Config{
		Mode:        mode.Server,
		LinkManager: newLinkManager(cfg, logger),
		Net:         deviceManager,
		NewDevice:   func() (tun.Device, error) { return deviceManager.CreateDevice() },
		Logger:      logger,

		Capacity: settings.ServerCapacity,
		Backoff:  settings.RespawnBackoff,

		NewAddons:    func() []func() (addon.Addon, error) { return addonFactories },
		NewRewriters: func() []rewriter.Rewriter { return rewriters },

		Network: cfg.Network,
		NewPool: func(network netip.Prefix) addresspoolport.Pool { return addresspool.New(network) },
	})

	return sup.Run(appCtx)
}

func loadConfig() (*settings.ServerConfig, error) {
	resolver := settings.NewResolver("server.json")
	mgr := settings.NewServerConfigManager(resolver)
	cfg, err := mgr.Configuration()
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode.Server
	return cfg, nil
}

// newLinkManager mirrors cmd/tungo's: switched directly on cfg.Protocol
// rather than through bootstrap's registry, for the same reason (§4.1, §4.2).
func newLinkManager(cfg *settings.ServerConfig, logger *logging.StdLogger) applink.Manager {
	if cfg.Protocol == settings.TCP {
		return tcp.NewServerManager(cfg.Port, logger)
	}
	return udp.NewServerManager(cfg.Port, logger)
}
