//go:build darwin

// Package ip wraps the BSD `ifconfig`/`route` commands for the host-network
// mutations configure_network/restore_network need on macOS. Grounded on the
// teacher's infrastructure/platform_tun/tools_darwin/ip and tools_darwin/route
// packages, reshaped to the same Wrapper surface as the Linux implementation
// so infrastructure/tundevice's manager code stays identical across builds.
package ip

import (
	"fmt"
	"strings"

	"tunnelcore/infrastructure/pal/commander"
)

// Wrapper issues ifconfig/route subcommands through a Commander.
type Wrapper struct {
	commander commander.Commander
}

func NewWrapper(c commander.Commander) *Wrapper {
	return &Wrapper{commander: c}
}

func (w *Wrapper) LinkSetUp(ifName string) error {
	if out, err := w.commander.CombinedOutput("ifconfig", ifName, "up"); err != nil {
		return fmt.Errorf("ifconfig: %s up: %w (%s)", ifName, err, out)
	}
	return nil
}

func (w *Wrapper) LinkSetMTU(ifName string, mtu int) error {
	if out, err := w.commander.CombinedOutput("ifconfig", ifName, "mtu", fmt.Sprintf("%d", mtu)); err != nil {
		return fmt.Errorf("ifconfig: %s mtu: %w (%s)", ifName, err, out)
	}
	return nil
}

func (w *Wrapper) LinkDelete(ifName string) error {
	if out, err := w.commander.CombinedOutput("ifconfig", ifName, "destroy"); err != nil {
		return fmt.Errorf("ifconfig: %s destroy: %w (%s)", ifName, err, out)
	}
	return nil
}

// AddrAddPeer assigns the point-to-point overlay addresses the utun-style
// BSD interface expects: `ifconfig tun0 inet local peer netmask 255.255.255.255`.
func (w *Wrapper) AddrAddPeer(ifName, local, peer string) error {
	if out, err := w.commander.CombinedOutput("ifconfig", ifName, "inet", local, peer, "netmask", "255.255.255.255"); err != nil {
		return fmt.Errorf("ifconfig: %s addr %s peer %s: %w (%s)", ifName, local, peer, err, out)
	}
	return nil
}

// RouteDefault parses `route -n get default` for the current gateway/interface.
func (w *Wrapper) RouteDefault() (gateway, device string, err error) {
	out, err := w.commander.Output("route", "-n", "get", "default")
	if err != nil {
		return "", "", fmt.Errorf("route -n get default: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "gateway:":
			gateway = fields[1]
		case "interface:":
			device = fields[1]
		}
	}
	if gateway == "" || device == "" {
		return "", "", fmt.Errorf("route: no default route found in %q", out)
	}
	return gateway, device, nil
}

func (w *Wrapper) RouteAddHost(host, gateway, device string) error {
	if out, err := w.commander.CombinedOutput("route", "add", "-host", host, "-interface", device); err != nil {
		return fmt.Errorf("route add -host %s -interface %s: %w (%s)", host, device, err, out)
	}
	return nil
}

func (w *Wrapper) RouteDelHost(host string) error {
	if out, err := w.commander.CombinedOutput("route", "delete", "-host", host); err != nil {
		return fmt.Errorf("route delete -host %s: %w (%s)", host, err, out)
	}
	return nil
}

// RouteAddSplitDefault mirrors the Linux split-default-route diversion using
// BSD route(8)'s -net/-interface form (teacher's route.AddSplit).
func (w *Wrapper) RouteAddSplitDefault(ifName string) error {
	for _, dst := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		if out, err := w.commander.CombinedOutput("route", "-q", "add", "-net", dst, "-interface", ifName); err != nil {
			return fmt.Errorf("route add -net %s -interface %s: %w (%s)", dst, ifName, err, out)
		}
	}
	return nil
}

func (w *Wrapper) RouteDelSplitDefault(ifName string) error {
	for _, dst := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		if out, err := w.commander.CombinedOutput("route", "-q", "delete", "-net", dst, "-interface", ifName); err != nil {
			return fmt.Errorf("route delete -net %s -interface %s: %w (%s)", dst, ifName, err, out)
		}
	}
	return nil
}
