package emulator

import (
	"fmt"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
	"github.com/rjboer/hiqsdr-emu/internal/telemetry"
)

// StreamControlChannel turns "rr"/"ss" datagrams on the stream port into
// StreamingState transitions.
type StreamControlChannel struct {
	conn     PacketConn
	state    *StreamingState
	logger   logging.Logger
	reporter telemetry.Reporter
	buf      [hiqsdr.DirectiveSize]byte
}

func NewStreamControlChannel(conn PacketConn, state *StreamingState, reporter telemetry.Reporter, logger logging.Logger) *StreamControlChannel {
	return &StreamControlChannel{
		conn:     conn,
		state:    state,
		logger:   logging.Subsystem(logger, "stream-control"),
		reporter: reporter,
	}
}

// Poll handles at most one pending directive and reports whether one was
// received.
func (c *StreamControlChannel) Poll() bool {
	dg, ok, err := c.conn.TryRecv(c.buf[:])
	if err != nil {
		c.logger.Warn("receive failed", logging.F("err", err))
		return false
	}
	if !ok {
		return false
	}

	directive := hiqsdr.ParseDirective(dg.Payload)
	switch directive {
	case hiqsdr.DirectiveStart:
		c.state.Apply(directive, dg.From)
		c.logger.Info("start streaming requested", logging.F("peer", dg.From))
	case hiqsdr.DirectiveStop:
		c.state.Apply(directive, dg.From)
		c.logger.Info("stop streaming requested", logging.F("peer", dg.From))
	default:
		c.logger.Warn("unknown stream directive", logging.F("peer", dg.From), logging.F("payload", fmt.Sprintf("%q", dg.Payload)))
	}

	if c.reporter != nil {
		c.reporter.Report(telemetry.Event{
			Kind:      telemetry.EventDirective,
			Time:      time.Now(),
			Peer:      dg.From,
			Directive: directive,
			Streaming: c.state.Snapshot().Enabled,
		})
	}
	return true
}
