package emulator

import (
	"net/netip"
	"sync"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

// StreamingState is the start/stop flag plus the address of the client that
// last asked for samples. The stream control channel is its only writer;
// the engine and telemetry only read snapshots.
type StreamingState struct {
	mu        sync.RWMutex
	enabled   bool
	requester netip.AddrPort
}

// StreamSnapshot is a point-in-time copy of StreamingState.
type StreamSnapshot struct {
	Enabled   bool
	Requester netip.AddrPort
}

// Active reports whether frames should be sent.
func (s StreamSnapshot) Active() bool {
	return s.Enabled && s.Requester.IsValid()
}

// Apply updates the state for a directive received from "from" and reports
// whether anything changed. Unknown directives never change state. Stop
// keeps the requester so a later start from elsewhere replaces it.
func (s *StreamingState) Apply(d hiqsdr.Directive, from netip.AddrPort) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch d {
	case hiqsdr.DirectiveStart:
		changed := !s.enabled || s.requester != from
		s.enabled = true
		s.requester = from
		return changed
	case hiqsdr.DirectiveStop:
		changed := s.enabled
		s.enabled = false
		return changed
	default:
		return false
	}
}

func (s *StreamingState) Snapshot() StreamSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamSnapshot{Enabled: s.enabled, Requester: s.requester}
}
