//go:build unix

package udpsock

import (
	"errors"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

func (c *Conn) tryRecv(buf []byte) (int, netip.AddrPort, bool, error) {
	var (
		n     int
		from  unix.Sockaddr
		opErr error
	)
	// Returning true from the callback keeps the runtime poller from
	// parking us when the queue is empty.
	err := c.raw.Read(func(fd uintptr) bool {
		n, from, opErr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, netip.AddrPort{}, false, err
	}
	if opErr != nil {
		if wouldBlock(opErr) || errors.Is(opErr, unix.EINTR) {
			return 0, netip.AddrPort{}, false, nil
		}
		return 0, netip.AddrPort{}, false, os.NewSyscallError("recvfrom", opErr)
	}
	return n, sockaddrToAddrPort(from), true, nil
}

func (c *Conn) trySend(p []byte, to netip.AddrPort) error {
	sa := addrPortToSockaddr(to)
	var opErr error
	err := c.raw.Write(func(fd uintptr) bool {
		opErr = unix.Sendto(int(fd), p, unix.MSG_DONTWAIT, sa)
		return true
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		if wouldBlock(opErr) || errors.Is(opErr, unix.ENOBUFS) {
			return ErrWouldBlock
		}
		return os.NewSyscallError("sendto", opErr)
	}
	return nil
}

// SendBufferSize reports the kernel SO_SNDBUF value.
func (c *Conn) SendBufferSize() (int, error) {
	var (
		size  int
		opErr error
	)
	err := c.raw.Control(func(fd uintptr) {
		size, opErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, opErr
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	default:
		return netip.AddrPort{}
	}
}

func addrPortToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}
