package telemetry

import (
	"sync"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
	"github.com/rjboer/hiqsdr-emu/internal/logging"
)

// StdoutReporter logs a streaming progress line every N frames and a summary
// whenever streaming stops.
type StdoutReporter struct {
	logger logging.Logger
	every  uint64

	mu      sync.Mutex
	sent    uint64
	dropped uint64
	skipped uint64
	errors  uint64
}

// NewStdoutReporter builds a reporter that logs every "every" frames. Zero
// disables the periodic line and keeps only the stop summary.
func NewStdoutReporter(logger logging.Logger, every uint64) *StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StdoutReporter{logger: logging.Subsystem(logger, "telemetry"), every: every}
}

func (r *StdoutReporter) Report(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case EventFrameSent:
		r.sent++
	case EventFrameDropped:
		r.dropped++
	case EventFrameSkipped:
		r.skipped++
	case EventSendError:
		r.errors++
	case EventDirective:
		if ev.Directive == hiqsdr.DirectiveStop {
			r.logger.Info("stream summary", r.fields(ev)...)
		}
		return
	default:
		return
	}

	if r.every > 0 && r.total()%r.every == 0 {
		r.logger.Info("stream progress", r.fields(ev)...)
	}
}

func (r *StdoutReporter) total() uint64 {
	return r.sent + r.dropped + r.skipped + r.errors
}

func (r *StdoutReporter) fields(ev Event) []logging.Field {
	fields := []logging.Field{
		logging.F("frames_sent", r.sent),
		logging.F("frames_dropped", r.dropped),
	}
	if r.skipped > 0 {
		fields = append(fields, logging.F("frames_backpressure", r.skipped))
	}
	if r.errors > 0 {
		fields = append(fields, logging.F("send_errors", r.errors))
	}
	if ev.Peer.IsValid() {
		fields = append(fields, logging.F("peer", ev.Peer))
	}
	return fields
}
