//go:build linux

// Package ip wraps the Linux `ip` command for the host-network mutations
// configure_network/restore_network need: bringing the tun interface up,
// assigning its point-to-point overlay addresses, and diverting/restoring
// the default route. Grounded on the teacher's
// infrastructure/PAL/linux/network_tools/ip.Wrapper (shape confirmed by its
// table-driven wrapper_test.go) and infrastructure/PAL/darwin/network_tools/ip
// for the exec-wrapper idiom.
package ip

import (
	"fmt"
	"strings"

	"tunnelcore/infrastructure/pal/commander"
)

// Wrapper issues `ip` subcommands through a Commander.
type Wrapper struct {
	commander commander.Commander
}

func NewWrapper(c commander.Commander) *Wrapper {
	return &Wrapper{commander: c}
}

func (w *Wrapper) LinkSetUp(ifName string) error {
	if out, err := w.commander.CombinedOutput("ip", "link", "set", "dev", ifName, "up"); err != nil {
		return fmt.Errorf("ip: link set up %s: %w (%s)", ifName, err, out)
	}
	return nil
}

func (w *Wrapper) LinkSetMTU(ifName string, mtu int) error {
	if out, err := w.commander.CombinedOutput("ip", "link", "set", "dev", ifName, "mtu", fmt.Sprintf("%d", mtu)); err != nil {
		return fmt.Errorf("ip: link set mtu %s: %w (%s)", ifName, err, out)
	}
	return nil
}

func (w *Wrapper) LinkDelete(ifName string) error {
	if out, err := w.commander.CombinedOutput("ip", "link", "delete", ifName); err != nil {
		return fmt.Errorf("ip: link delete %s: %w (%s)", ifName, err, out)
	}
	return nil
}

// AddrAddPeer assigns a point-to-point overlay address: `local` is this
// end's address, `peer` is reachable through the tun with no subnet needed.
func (w *Wrapper) AddrAddPeer(ifName, local, peer string) error {
	if out, err := w.commander.CombinedOutput("ip", "addr", "add", "local", local, "peer", peer, "dev", ifName); err != nil {
		return fmt.Errorf("ip: addr add %s peer %s on %s: %w (%s)", local, peer, ifName, err, out)
	}
	return nil
}

// RouteDefault returns (gateway, device) of the current default route.
func (w *Wrapper) RouteDefault() (gateway, device string, err error) {
	out, err := w.commander.Output("ip", "route", "show", "default")
	if err != nil {
		return "", "", fmt.Errorf("ip: route show default: %w", err)
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		switch f {
		case "via":
			if i+1 < len(fields) {
				gateway = fields[i+1]
			}
		case "dev":
			if i+1 < len(fields) {
				device = fields[i+1]
			}
		}
	}
	if gateway == "" || device == "" {
		return "", "", fmt.Errorf("ip: no default route found in %q", out)
	}
	return gateway, device, nil
}

// RouteAddHost pins host (a /32) through gateway on device, so diverting the
// default route below doesn't also capture traffic to the peer itself.
func (w *Wrapper) RouteAddHost(host, gateway, device string) error {
	if out, err := w.commander.CombinedOutput("ip", "route", "add", host+"/32", "via", gateway, "dev", device); err != nil {
		return fmt.Errorf("ip: route add host %s via %s dev %s: %w (%s)", host, gateway, device, err, out)
	}
	return nil
}

func (w *Wrapper) RouteDelHost(host string) error {
	if out, err := w.commander.CombinedOutput("ip", "route", "del", host+"/32"); err != nil {
		return fmt.Errorf("ip: route del host %s: %w (%s)", host, err, out)
	}
	return nil
}

// RouteAddSplitDefault installs the classic two-/1-route default-route
// diversion through ifName, overriding the system default without removing it.
func (w *Wrapper) RouteAddSplitDefault(ifName string) error {
	for _, dst := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		if out, err := w.commander.CombinedOutput("ip", "route", "add", dst, "dev", ifName); err != nil {
			return fmt.Errorf("ip: route add %s dev %s: %w (%s)", dst, ifName, err, out)
		}
	}
	return nil
}

func (w *Wrapper) RouteDelSplitDefault(ifName string) error {
	for _, dst := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		if out, err := w.commander.CombinedOutput("ip", "route", "del", dst, "dev", ifName); err != nil {
			return fmt.Errorf("ip: route del %s dev %s: %w (%s)", dst, ifName, err, out)
		}
	}
	return nil
}
