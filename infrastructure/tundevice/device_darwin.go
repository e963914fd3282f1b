//go:build darwin

package tundevice

import (
	"encoding/binary"
	"fmt"
	"syscall"

	wgtun "golang.zx2c4.com/wireguard/tun"
)

// maxFrame bounds the utun header (4 bytes) plus the largest IP packet this
// implementation exchanges (§3 Device).
const maxFrame = 1500 + 4

// wgDevice adapts a golang.zx2c4.com/wireguard/tun.Device — the same utun
// driver the teacher uses on Darwin (infrastructure/platform_tun/tun_manager_darwin.go)
// — to tun.Device. The kernel prefixes every utun frame with a 4-byte address-
// family header that Read strips and Write restores.
type wgDevice struct {
	dev  wgtun.Device
	name string

	readBuf  []byte
	writeBuf []byte
	sizes    []int
}

func newWgDevice(dev wgtun.Device) (*wgDevice, error) {
	name, err := dev.Name()
	if err != nil {
		return nil, fmt.Errorf("tundevice: utun name: %w", err)
	}
	return &wgDevice{
		dev:      dev,
		name:     name,
		readBuf:  make([]byte, maxFrame),
		writeBuf: make([]byte, maxFrame),
		sizes:    make([]int, 1),
	}, nil
}

func (d *wgDevice) Read(buf []byte) (int, error) {
	bufs := [][]byte{d.readBuf}
	if _, err := d.dev.Read(bufs, d.sizes, 4); err != nil {
		return 0, err
	}
	n := d.sizes[0]
	if n > len(buf) {
		return 0, fmt.Errorf("tundevice: packet of %d bytes exceeds caller buffer of %d", n, len(buf))
	}
	return copy(buf, d.readBuf[4:4+n]), nil
}

func (d *wgDevice) Write(buf []byte) (int, error) {
	if len(buf)+4 > len(d.writeBuf) {
		return 0, fmt.Errorf("tundevice: packet of %d bytes exceeds max frame", len(buf))
	}
	family := uint32(syscall.AF_INET)
	if len(buf) > 0 && buf[0]>>4 == 6 {
		family = syscall.AF_INET6
	}
	binary.BigEndian.PutUint32(d.writeBuf[:4], family)
	n := copy(d.writeBuf[4:], buf)
	if _, err := d.dev.Write([][]byte{d.writeBuf[:4+n]}, 4); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *wgDevice) Close() error { return d.dev.Close() }
func (d *wgDevice) Name() string { return d.name }
