// Package udpsock wraps a bound UDP socket with non-blocking receive and
// send calls. An empty receive queue is a normal result, not an error, and a
// full send buffer is reported as ErrWouldBlock.
package udpsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// ErrWouldBlock means the kernel send buffer cannot take the datagram now.
var ErrWouldBlock = errors.New("udpsock: send would block")

// Datagram is one received packet. Payload aliases the caller's buffer.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
}

// Conn is a bound UDP socket polled without blocking.
type Conn struct {
	conn *net.UDPConn
	raw  syscall.RawConn
}

// Listen binds an IPv4 UDP socket on addr (host:port).
func Listen(ctx context.Context, addr string) (*Conn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return Wrap(pc.(*net.UDPConn))
}

// Wrap takes ownership of an already bound socket.
func Wrap(conn *net.UDPConn) (*Conn, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	return &Conn{conn: conn, raw: raw}, nil
}

// LocalAddr is the bound address.
func (c *Conn) LocalAddr() netip.AddrPort {
	if ua, ok := c.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// TryRecv receives at most one pending datagram into buf. ok is false when
// nothing is queued. Datagrams longer than buf are truncated.
func (c *Conn) TryRecv(buf []byte) (Datagram, bool, error) {
	n, from, ok, err := c.tryRecv(buf)
	if err != nil || !ok {
		return Datagram{}, false, err
	}
	return Datagram{Payload: buf[:n], From: from}, true, nil
}

// TrySend sends p to the given address without waiting for buffer space.
func (c *Conn) TrySend(p []byte, to netip.AddrPort) error {
	if !to.IsValid() {
		return fmt.Errorf("udpsock: invalid destination %v", to)
	}
	return c.trySend(p, netip.AddrPortFrom(to.Addr().Unmap(), to.Port()))
}

// SetWriteBuffer sizes the kernel send buffer.
func (c *Conn) SetWriteBuffer(bytes int) error {
	return c.conn.SetWriteBuffer(bytes)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
