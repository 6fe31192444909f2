//go:build linux

package fdfs

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeConn peeks one byte and sends zero bytes, both non-blocking.
// An idle socket has nothing to read, so anything but EAGAIN on the peek means dead.
func probeConn(conn net.Conn) bool {
	sysConn, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}

	raw, err := sysConn.SyscallConn()
	if err != nil {
		return false
	}

	alive := true
	peek := make([]byte, 1)
	err = raw.Read(func(fd uintptr) bool {
		_, _, readErr := unix.Recvfrom(int(fd), peek, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		if !wouldBlock(readErr) {
			alive = false
		}
		return true
	})
	if err != nil || !alive {
		return false
	}

	err = raw.Write(func(fd uintptr) bool {
		sendErr := unix.Send(int(fd), nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if sendErr != nil && !wouldBlock(sendErr) {
			alive = false
		}
		return true
	})

	return err == nil && alive
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
