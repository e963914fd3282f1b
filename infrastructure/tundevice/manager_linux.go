//go:build linux

package tundevice

import (
	"fmt"
	"sync"
	"sync/atomic"

	"tunnelcore/application/hostnet"
	"tunnelcore/application/tun"
	"tunnelcore/infrastructure/hostnet/linuxfw"
	"tunnelcore/infrastructure/pal/commander"
	"tunnelcore/infrastructure/pal/ip"
)

var tunCounter atomic.Uint32

func nextTunName() string {
	return fmt.Sprintf("tungo%d", tunCounter.Add(1))
}

// LinuxManager implements both tun.ClientManager and tun.ServerManager: it
// opens a kernel tun device via ioctl(TUNSETIFF), wraps it in the dual-epoll
// non-blocking Device, and drives address/route mutation through the ip
// command wrapper. Server-side sessions additionally install an MSS clamp.
// newClamp builds the MSS-clamp transaction for a configured interface.
// Overridable in tests to avoid touching a real netlink socket.
type newClampFunc func(ifName string) (hostnet.Transaction, error)

type LinuxManager struct {
	MTU int

	ioctl    ioctlCommander
	ip       *ip.Wrapper
	newClamp newClampFunc

	mu      sync.Mutex
	clamps  map[tun.Device]hostnet.Transaction
	hostRts map[tun.Device]string // pinned peer-IP host route, for restore
}

func NewLinuxManager(mtu int) *LinuxManager {
	return newLinuxManagerWithDeps(mtu, linuxIoctlCommander{}, ip.NewWrapper(commander.NewExec()), defaultNewClamp)
}

// NewManager is the platform-dispatch constructor cmd/ entrypoints call
// (§11.1): this file only builds under GOOS=linux, so the symbol resolves to
// the Linux manager there and to manager_darwin.go's on Darwin.
func NewManager(mtu int) *LinuxManager {
	return NewLinuxManager(mtu)
}

func defaultNewClamp(ifName string) (hostnet.Transaction, error) {
	return linuxfw.NewMSSClamp(ifName)
}

func newLinuxManagerWithDeps(mtu int, ioctl ioctlCommander, ipw *ip.Wrapper, newClamp newClampFunc) *LinuxManager {
	return &LinuxManager{
		MTU:      mtu,
		ioctl:    ioctl,
		ip:       ipw,
		newClamp: newClamp,
		clamps:   map[tun.Device]hostnet.Transaction{},
		hostRts:  map[tun.Device]string{},
	}
}

func (m *LinuxManager) CreateDevice() (tun.Device, error) {
	name := nextTunName()
	f, err := createTunInterface(m.ioctl, name)
	if err != nil {
		return nil, err
	}
	dev, err := newEpollDevice(f, name)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return dev, nil
}

func (m *LinuxManager) ConfigureNetwork(dev tun.Device, cfg tun.NetworkConfig) error {
	name := dev.Name()

	if err := m.ip.LinkSetMTU(name, m.MTU); err != nil {
		return err
	}
	if err := m.ip.LinkSetUp(name); err != nil {
		return err
	}
	if err := m.ip.AddrAddPeer(name, cfg.MyOverlayIP.String(), cfg.PeerOverlayIP.String()); err != nil {
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

	clamp, err := m.newClamp(name)
	if err != nil {
		return fmt.Errorf("tundevice: mss clamp: %w", err)
	}
	if err := clamp.Apply(); err != nil {
		return err
	}
	m.mu.Lock()
	m.clamps[dev] = clamp
	m.mu.Unlock()

	return nil
}

func (m *LinuxManager) RestoreNetwork(dev tun.Device, cfg tun.NetworkConfig) error {
	name := dev.Name()

	m.mu.Lock()
	clamp, hasClamp := m.clamps[dev]
	delete(m.clamps, dev)
	host, hasHost := m.hostRts[dev]
	delete(m.hostRts, dev)
	m.mu.Unlock()

	var firstErr error
	if hasClamp {
		if err := clamp.Rollback(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
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

func (m *LinuxManager) DisposeDevice(dev tun.Device) error {
	name := dev.Name()
	closeErr := dev.Close()
	if err := m.ip.LinkDelete(name); err != nil && closeErr == nil {
		return err
	}
	return closeErr
}

var _ tun.ClientManager = (*LinuxManager)(nil)
var _ tun.ServerManager = (*LinuxManager)(nil)
