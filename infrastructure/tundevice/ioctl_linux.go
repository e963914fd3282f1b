//go:build linux

// Package tundevice opens, configures and disposes the kernel tun interface.
// The Linux backend is grounded on the teacher's
// infrastructure/PAL/linux/ioctl (TUNSETIFF) and infrastructure/PAL/linux/tun/epoll
// (dual-epoll non-blocking I/O); darwin and windows wrap
// golang.zx2c4.com/wireguard/tun the way infrastructure/PAL/tun_client's
// platform managers do.
package tundevice

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunPath = "/dev/net/tun"

	ifNameSize = 16
	tunSetIff  = 0x400454ca
	iffTun     = 0x0001
	iffNoPi    = 0x1000
)

// ifReq mirrors the kernel's struct ifreq for the TUNSETIFF/TUNGETIFF calls:
// a 16-byte interface name followed by a union, here just the flags field
// padded out to the struct's real size.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [40 - ifNameSize - 2]byte
}

// ioctlCommander is narrowed to make CreateTunInterface testable without a
// real /dev/net/tun.
type ioctlCommander interface {
	Ioctl(fd uintptr, request uintptr, req *ifReq) (uintptr, uintptr, unix.Errno)
}

type linuxIoctlCommander struct{}

func (linuxIoctlCommander) Ioctl(fd uintptr, request uintptr, req *ifReq) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(unsafe.Pointer(req)))
}

// createTunInterface opens /dev/net/tun and attaches it to the named
// interface (created if absent), returning the raw *os.File.
func createTunInterface(commander ioctlCommander, name string) (*os.File, error) {
	tun, err := os.OpenFile(tunPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundevice: open %s: %w", tunPath, err)
	}

	shouldClose := true
	defer func() {
		if shouldClose {
			_ = tun.Close()
		}
	}()

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = iffTun | iffNoPi

	if _, _, errno := commander.Ioctl(tun.Fd(), uintptr(tunSetIff), &req); errno != 0 {
		return nil, fmt.Errorf("tundevice: ioctl TUNSETIFF for %s: %w", name, errno)
	}

	shouldClose = false
	return tun, nil
}
