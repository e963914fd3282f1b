// Command tungo is the client entry point (§12.3), mirroring the teacher's
// main.go + presentation.StartClient: resolve configuration, wire the
// registered component classes, and hand off to the supervisor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"tunnelcore/application/addon"
	applink "tunnelcore/application/link"
	"tunnelcore/application/rewriter"
	"tunnelcore/application/tun"
	"tunnelcore/domain/app"
	"tunnelcore/domain/mode"
	"tunnelcore/infrastructure/bootstrap"
	"tunnelcore/infrastructure/logging"
	"tunnelcore/infrastructure/settings"
	"tunnelcore/infrastructure/supervisor"
	"tunnelcore/infrastructure/transport/tcp"
	"tunnelcore/infrastructure/transport/udp"
	"tunnelcore/infrastructure/tundevice"
	"tunnelcore/presentation/tui"
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

	sessionName := uuid.NewString()
	logger.Printf("%s: starting client (session hint %s, %s %s:%d)",
		app.Name, sessionName, cfg.Protocol, cfg.Host, cfg.Port)

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
		Mode:        mode.Client,
		LinkManager: newLinkManager(cfg, logger),
		Net:         deviceManager,
		NewDevice:   func() (tun.Device, error) { return deviceManager.CreateDevice() },
		Logger:      logger,

		Capacity: settings.ClientCapacity,
		Backoff:  settings.RespawnBackoff,

		NewAddons:    func() []func() (addon.Addon, error) { return addonFactories },
		NewRewriters: func() []rewriter.Rewriter { return rewriters },

		SetDefaultGateway: cfg.SetDefaultGateway,
	})

	return sup.Run(appCtx)
}

func loadConfig() (*settings.ClientConfig, error) {
	resolver := settings.NewResolver("client.json")
	mgr := settings.NewClientConfigManager(resolver)
	cfg, err := mgr.Configuration()
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode.Client

	if cfg.Host.IsZero() && isTerminal() {
		result, ok, wizardErr := tui.Run()
		if wizardErr != nil {
			return nil, wizardErr
		}
		if !ok {
			return nil, fmt.Errorf("configuration wizard cancelled")
		}
		host, hostErr := settings.NewHost(result.Host)
		if hostErr != nil {
			return nil, hostErr
		}
		cfg.Host = host
		cfg.Port = result.Port
		cfg.Protocol = result.Protocol
		cfg.SetDefaultGateway = result.SetDefaultGateway
	}
	return cfg, nil
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// newLinkManager selects the transport by cfg.Protocol (§4.1, §4.2);
// tundevice and the two transport.*.Manager types are switched on directly
// rather than through bootstrap's registry, since they need shared runtime
// values (host, port, logger) a bare JSON-params constructor doesn't carry.
func newLinkManager(cfg *settings.ClientConfig, logger *logging.StdLogger) applink.Manager {
	if cfg.Protocol == settings.TCP {
		return tcp.NewClientManager(cfg.Host.String(), cfg.Port, logger)
	}
	return udp.NewClientManager(cfg.Host.String(), cfg.Port, logger)
}
