package settings

import (
	"fmt"
	"net/netip"

	"tunnelcore/domain/mode"
)

// ClientConfig is the external entry point's client-side configuration (§6).
// Device/Link/Rewriters/Addons class references are resolved against the
// registries in infrastructure/bootstrap and infrastructure/registry; an
// unknown class aborts startup (§7 Configuration error).
type ClientConfig struct {
	Mode              mode.Mode      `json:"-"`
	Device            ComponentRef   `json:"device"`
	Link              ComponentRef   `json:"link"`
	Host              Host           `json:"host"`
	Port              int            `json:"port"`
	Protocol          Protocol       `json:"protocol"`
	SetDefaultGateway bool           `json:"set_default_gateway"`
	DialTimeout       DialTimeoutMs  `json:"dial_timeout_ms"`
	Rewriters         []ComponentRef `json:"rewriters"`
	Addons            []ComponentRef `json:"addons"`
	MTU               int            `json:"mtu"`
}

// ServerConfig is the external entry point's server-side configuration (§6).
// See ClientConfig's doc comment on class-reference resolution.
type ServerConfig struct {
	Mode      mode.Mode      `json:"-"`
	Device    ComponentRef   `json:"device"`
	Link      ComponentRef   `json:"link"`
	Port      int            `json:"port"`
	Protocol  Protocol       `json:"protocol"`
	Network   netip.Prefix   `json:"network"`
	Rewriters []ComponentRef `json:"rewriters"`
	Addons    []ComponentRef `json:"addons"`
	MTU       int            `json:"mtu"`
}

func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Mode:              mode.Client,
		Device:            ComponentRef{Class: "tun"},
		Link:              ComponentRef{Class: "udp"},
		Port:              9090,
		Protocol:          UDP,
		SetDefaultGateway: true,
		DialTimeout:       DialTimeoutMs(5000),
		MTU:               SafeMTU,
	}
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Mode:     mode.Server,
		Device:   ComponentRef{Class: "tun"},
		Link:     ComponentRef{Class: "udp"},
		Port:     9090,
		Protocol: UDP,
		Network:  netip.MustParsePrefix("10.48.0.0/24"),
		MTU:      SafeMTU,
	}
}

// Validate checks the required fields an external entry point must supply
// before the supervisor is allowed to start (§7 Configuration error).
func (c *ClientConfig) Validate() error {
	if c.Device.Class == "" {
		return fmt.Errorf("configuration error: device.class is required")
	}
	if c.Link.Class == "" {
		return fmt.Errorf("configuration error: link.class is required")
	}
	if c.Host.IsZero() {
		return fmt.Errorf("configuration error: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("configuration error: invalid port %d", c.Port)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Device.Class == "" {
		return fmt.Errorf("configuration error: device.class is required")
	}
	if c.Link.Class == "" {
		return fmt.Errorf("configuration error: link.class is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("configuration error: invalid port %d", c.Port)
	}
	if !c.Network.IsValid() {
		return fmt.Errorf("configuration error: network CIDR is required")
	}
	return nil
}
