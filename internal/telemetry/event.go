package telemetry

import (
	"net/netip"
	"time"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

// EventKind names something the emulator did.
type EventKind string

const (
	EventCommand      EventKind = "command"
	EventDirective    EventKind = "directive"
	EventFrameSent    EventKind = "frame_sent"
	EventFrameDropped EventKind = "frame_dropped"
	EventFrameSkipped EventKind = "frame_backpressure"
	EventSendError    EventKind = "send_error"
)

// Event is a single emulator occurrence. Only the fields relevant to Kind
// are set. Frame aliases the capture buffer and must be copied if kept.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Peer      netip.AddrPort
	Control   hiqsdr.ControlDecode
	Directive hiqsdr.Directive
	Streaming bool
	Frame     []byte
	Err       error
}

// Reporter captures emulator events.
type Reporter interface {
	Report(ev Event)
}

// MultiReporter fans out events to multiple destinations.
type MultiReporter []Reporter

// Report forwards the event to each configured reporter.
func (m MultiReporter) Report(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ev)
		}
	}
}
