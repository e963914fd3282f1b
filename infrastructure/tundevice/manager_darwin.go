//go:build darwin

package tundevice

import (
	"fmt"
	"sync"

	wgtun "golang.zx2c4.com/wireguard/tun"

	"tunnelcore/application/tun"
	"tunnelcore/infrastructure/pal/commander"
	"tunnelcore/infrastructure/pal/ip"
)

// DarwinManager implements both tun.ClientManager and tun.ServerManager on
// top of the utun driver (§11.1), grounded on the teacher's
// infrastructure/platform_tun/tun_manager_darwin.go. macOS has no nftables
// equivalent reachable from Go without root helper tooling the teacher
// doesn't carry either, so the MSS clamp step the Linux manager runs is
// skipped here — a platform gap, not a dropped concern.
type DarwinManager struct {
	MTU int

	ip *ip.Wrapper

	mu      sync.Mutex
	hostRts map[tun.Device]string
}

// NewManager is the platform-dispatch constructor cmd/ entrypoints call
// (§11.1); this file only builds under GOOS=darwin, so the symbol resolves
// to the Darwin manager here and to manager_linux.go's on Linux.
func NewManager(mtu int) *DarwinManager {
	return NewDarwinManager(mtu)
}

func NewDarwinManager(mtu int) *DarwinManager {
	return &DarwinManager{
		MTU:     mtu,
		ip:      ip.NewWrapper(commander.NewExec()),
		hostRts: map[tun.Device]string{},
	}
}

func (m *DarwinManager) CreateDevice() (tun.Device, error) {
	raw, err := wgtun.CreateTUN("utun", m.MTU)
	if err != nil {
		return nil, fmt.Errorf("tundevice: create utun: %w", err)
	}
	dev, err := newWgDevice(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return dev, nil
}

func (m *DarwinManager) ConfigureNetwork(dev tun.Device, cfg tun.NetworkConfig) error {
	name := dev.Name()

	if err := m.ip.AddrAddPeer(name, cfg.MyOverlayIP.String(), cfg.PeerOverlayIP.String()); err != nil {
		return err
	}
	if err := m.ip.LinkSetUp(name); err != nil {
		return err
	}

	if cfg.AddDefaultRoutes {
		gw, gwDev, err := m.ip.RouteDefault()
		if err != nil {
			return fmt.Errorf("tundevice: resolve current default route: %w", err)
		}
		if err := m.ip.RouteAddHost(cfg.PeerPublicIP.String(), gw, gwDev); err != nil {
			return err
		}
		m.mu.Lock()
		m.hostRts[dev] = cfg.PeerPublicIP.String()
		m.mu.Unlock()

		if err := m.ip.RouteAddSplitDefault(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *DarwinManager) RestoreNetwork(dev tun.Device, cfg tun.NetworkConfig) error {
	name := dev.Name()

	m.mu.Lock()
	host, hasHost := m.hostRts[dev]
	delete(m.hostRts, dev)
	m.mu.Unlock()

	var firstErr error
	if cfg.AddDefaultRoutes {
		if err := m.ip.RouteDelSplitDefault(name); err != nil && firstErr == nil {
			firstErr = err
		}
		if hasHost {
			if err := m.ip.RouteDelHost(host); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *DarwinManager) DisposeDevice(dev tun.Device) error {
	name := dev.Name()
	closeErr := dev.Close()
	if err := m.ip.LinkDelete(name); err != nil && closeErr == nil {
		return err
	}
	return closeErr
}

var _ tun.ClientManager = (*DarwinManager)(nil)
var _ tun.ServerManager = (*DarwinManager)(nil)
