package tun

import "net/netip"

// NetworkConfig carries the arguments to configure_network/restore_network (§3, §4.6).
type NetworkConfig struct {
	PeerPublicIP     netip.Addr
	PeerOverlayIP    netip.Addr
	MyOverlayIP      netip.Addr
	AddDefaultRoutes bool
}

// ClientManager creates and disposes the client's tun device.
type ClientManager interface {
	CreateDevice() (Device, error)
	// ConfigureNetwork brings the device up with the negotiated overlay
	// addresses and, if requested, diverts the default route (§3, §6).
	ConfigureNetwork(dev Device, cfg NetworkConfig) error
	// RestoreNetwork reverses ConfigureNetwork; must be idempotent and safe
	// to call even if ConfigureNetwork partially failed (§4.7, §7).
	RestoreNetwork(dev Device, cfg NetworkConfig) error
	DisposeDevice(dev Device) error
}

// ServerManager creates and disposes per-session tun devices on the server.
type ServerManager interface {
	CreateDevice() (Device, error)
	ConfigureNetwork(dev Device, cfg NetworkConfig) error
	RestoreNetwork(dev Device, cfg NetworkConfig) error
	DisposeDevice(dev Device) error
}
