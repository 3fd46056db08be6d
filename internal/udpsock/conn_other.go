//go:build !unix

package udpsock

import (
	"errors"
	"net/netip"
	"os"
	"time"
)

// Without MSG_DONTWAIT a short deadline stands in for a non-blocking call.
const pollWindow = time.Millisecond

func (c *Conn) tryRecv(buf []byte) (int, netip.AddrPort, bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, netip.AddrPort{}, false, err
	}
	n, from, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, false, nil
		}
		return 0, netip.AddrPort{}, false, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), true, nil
}

func (c *Conn) trySend(p []byte, to netip.AddrPort) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(pollWindow)); err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDPAddrPort(p, to); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

// SendBufferSize is not available on this platform.
func (c *Conn) SendBufferSize() (int, error) {
	return 0, errors.New("udpsock: SO_SNDBUF query unsupported")
}
