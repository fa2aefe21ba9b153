//go:build linux || darwin

package channel

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func available(f *os.File) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("raw conn: %w", err)
	}
	var (
		n     int
		ioErr error
	)
	// Control keeps the descriptor in non-blocking mode, unlike f.Fd().
	if err := rc.Control(func(fd uintptr) {
		n, ioErr = unix.IoctlGetInt(int(fd), bytesReadableReq)
	}); err != nil {
		return 0, fmt.Errorf("control: %w", err)
	}
	if ioErr != nil {
		return 0, fmt.Errorf("bytes-available ioctl: %w", ioErr)
	}
	return n, nil
}

// WaitReadable blocks until one of the links has response bytes or has hung up, or until
// timeout elapses. It never consumes data.
func WaitReadable(links []*Duplex, timeout time.Duration) (Readiness, error) {
	res := Readiness{
		Readable: make([]bool, len(links)),
		HungUp:   make([]bool, len(links)),
	}
	if len(links) == 0 {
		time.Sleep(timeout)
		return res, nil
	}

	fds := make([]unix.PollFd, len(links))
	for i, d := range links {
		rc, err := d.fromWorker.SyscallConn()
		if err != nil {
			return res, fmt.Errorf("raw conn: %w", err)
		}
		if err := rc.Control(func(fd uintptr) {
			fds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}); err != nil {
			return res, fmt.Errorf("control: %w", err)
		}
	}

	_, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return res, nil
		}
		return res, fmt.Errorf("poll: %w", err)
	}
	for i, p := range fds {
		res.Readable[i] = p.Revents&unix.POLLIN != 0
		res.HungUp[i] = p.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
	}
	return res, nil
}
