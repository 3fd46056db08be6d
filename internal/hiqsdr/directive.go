package hiqsdr

// Directive is a start/stop instruction received on the stream port.
type Directive int

const (
	DirectiveUnknown Directive = iota
	DirectiveStart
	DirectiveStop
)

var (
	StartPayload = []byte{'r', 'r'}
	StopPayload  = []byte{'s', 's'}
)

func (d Directive) String() string {
	switch d {
	case DirectiveStart:
		return "start"
	case DirectiveStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseDirective maps a stream-port datagram to a Directive. Only the exact
// two-byte sentinels are recognised.
func ParseDirective(raw []byte) Directive {
	if len(raw) != DirectiveSize {
		return DirectiveUnknown
	}
	switch {
	case raw[0] == 'r' && raw[1] == 'r':
		return DirectiveStart
	case raw[0] == 's' && raw[1] == 's':
		return DirectiveStop
	default:
		return DirectiveUnknown
	}
}
