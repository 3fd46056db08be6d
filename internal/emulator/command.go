package emulator

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/telemetry"
	"github.com/rjboer/hiqsdr-emu/internal/udpsock"
)

// PacketConn is the slice of udpsock.Conn the channels and the engine use.
type PacketConn interface {
	TryRecv(buf []byte) (udpsock.Datagram, bool, error)
	TrySend(p []byte, to netip.AddrPort) error
}

// CommandChannel answers control packets the way the hardware does: it
// sends every packet straight back to whoever sent it. Fields are decoded
// only for the log.
type CommandChannel struct {
	conn     PacketConn
	refClk   float64
	logger   logging.Logger
	reporter telemetry.Reporter
	buf      [hiqsdr.ControlPacketSize]byte
}

func NewCommandChannel(conn PacketConn, refClk float64, reporter telemetry.Reporter, logger logging.Logger) *CommandChannel {
	return &CommandChannel{
		conn:     conn,
		refClk:   refClk,
		logger:   logging.Subsystem(logger, "command"),
		reporter: reporter,
	}
}

// Poll handles at most one pending control packet and reports whether one
// was received. Socket errors are logged and swallowed.
func (c *CommandChannel) Poll() bool {
	dg, ok, err := c.conn.TryRecv(c.buf[:])
	if err != nil {
		c.logger.Warn("receive failed", logging.F("err", err))
		return false
	}
	if !ok {
		return false
	}

	raw := append([]byte(nil), dg.Payload...)
	decoded := hiqsdr.DecodeControl(raw, c.refClk)
	c.logControl(dg.From, decoded)

	if err := c.conn.TrySend(raw, dg.From); err != nil {
		if errors.Is(err, udpsock.ErrWouldBlock) {
			c.logger.Warn("echo dropped, send buffer full", logging.F("peer", dg.From))
		} else {
			c.logger.Warn("echo failed", logging.F("peer", dg.From), logging.F("err", err))
		}
	}
	if c.reporter != nil {
		c.reporter.Report(telemetry.Event{
			Kind:    telemetry.EventCommand,
			Time:    time.Now(),
			Peer:    dg.From,
			Control: decoded,
		})
	}
	return true
}

func (c *CommandChannel) logControl(from netip.AddrPort, decoded hiqsdr.ControlDecode) {
	switch d := decoded.(type) {
	case hiqsdr.DecodedControl:
		rate := "undefined"
		if d.SampleRateOK {
			rate = fmt.Sprintf("%.0f", d.SampleRate)
		}
		c.logger.Info("received command",
			logging.F("peer", from),
			logging.F("id", string(d.ID[:])),
			logging.F("rx_freq_hz", int64(d.RXFrequency)),
			logging.F("tx_freq_hz", int64(d.TXFrequency)),
			logging.F("tx_level", d.TXLevel),
			logging.F("tx_ctrl", fmt.Sprintf("%08b", d.TXControl)),
			logging.F("rx_rate", rate),
			logging.F("rate_code", d.RateCode),
			logging.F("firmware", d.Firmware),
			logging.F("preselector", fmt.Sprintf("%08b", d.Preselector)),
			logging.F("attenuator", fmt.Sprintf("%08b", d.Attenuator)),
			logging.F("antenna", d.Antenna),
		)
	case hiqsdr.MalformedControl:
		c.logger.Warn("malformed command",
			logging.F("peer", from),
			logging.F("reason", d.Reason),
			logging.F("raw", fmt.Sprintf("% x", d.Raw())),
		)
	}
}
