//go:build linux

package tundevice

import (
	"errors"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"tunnelcore/application/tun"
)

// epollDevice wraps a duplicated non-blocking tun fd behind two epoll
// instances, one for EPOLLIN and one for EPOLLOUT, so a hot loop from
// EPOLLOUT's near-constant readiness never starves the reader. Read and
// Write may run concurrently from different goroutines; concurrent calls
// to the same method on one instance are not supported.
type epollDevice struct {
	name  string
	fd    int
	epIn  int
	epOut int

	closed atomic.Bool
}

var _ tun.Device = (*epollDevice)(nil)

// newEpollDevice takes ownership of f on success, closing it once the
// duplicated fd is registered. On error f is left open for the caller.
func newEpollDevice(f *os.File, name string) (*epollDevice, error) {
	orig := int(f.Fd())

	dup, err := unix.Dup(orig)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(dup, true); err != nil {
		_ = unix.Close(dup)
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(dup), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(dup)
		return nil, err
	}

	epIn, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(dup)
		return nil, err
	}
	epOut, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}

	inEv := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(dup)}
	if err := unix.EpollCtl(epIn, unix.EPOLL_CTL_ADD, dup, &inEv); err != nil {
		_ = unix.Close(epOut)
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}
	outEv := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(dup)}
	if err := unix.EpollCtl(epOut, unix.EPOLL_CTL_ADD, dup, &outEv); err != nil {
		_ = unix.Close(epOut)
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}

	_ = f.Close()
	runtime.KeepAlive(f)

	return &epollDevice{name: name, fd: dup, epIn: epIn, epOut: epOut}, nil
}

func (d *epollDevice) Name() string { return d.name }

func (d *epollDevice) Read(p []byte) (int, error) {
	if d.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	for {
		n, err := unix.Read(d.fd, p)
		if err == nil {
			return n, nil
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if err := d.waitReadable(); err != nil {
				return 0, err
			}
			continue
		case errors.Is(err, unix.EBADF):
			return 0, io.ErrClosedPipe
		default:
			return 0, err
		}
	}
}

func (d *epollDevice) Write(p []byte) (int, error) {
	if d.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	total := 0
	for total < len(p) {
		n, err := unix.Write(d.fd, p[total:])
		if err == nil {
			if n == 0 {
				if err := d.waitWritable(); err != nil {
					return total, err
				}
				continue
			}
			total += n
			continue
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if err := d.waitWritable(); err != nil {
				return total, err
			}
			continue
		case errors.Is(err, unix.EBADF):
			return total, io.ErrClosedPipe
		default:
			return total, err
		}
	}
	return total, nil
}

// Close closes the epoll instances first so any blocked waitReadable or
// waitWritable call returns, then closes the data fd. Safe to call more
// than once.
func (d *epollDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := unix.Close(d.epIn); err != nil {
		firstErr = err
	}
	if err := unix.Close(d.epOut); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *epollDevice) waitReadable() error {
	var evs [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(d.epIn, evs[:], -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EBADF) || d.closed.Load() {
				return io.ErrClosedPipe
			}
			return err
		}
		if n <= 0 {
			continue
		}
		ev := evs[0].Events
		if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return io.EOF
		}
		if ev&unix.EPOLLIN != 0 {
			return nil
		}
	}
}

func (d *epollDevice) waitWritable() error {
	var evs [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(d.epOut, evs[:], -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EBADF) || d.closed.Load() {
				return io.ErrClosedPipe
			}
			return err
		}
		if n <= 0 {
			continue
		}
		ev := evs[0].Events
		if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return io.EOF
		}
		if ev&unix.EPOLLOUT != 0 {
			return nil
		}
	}
}
