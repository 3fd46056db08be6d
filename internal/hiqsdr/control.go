package hiqsdr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Field offsets inside a control packet.
const (
	offID         = 0
	offRXPhase    = 2
	offTXPhase    = 6
	offTXLevel    = 10
	offTXControl  = 11
	offRateCode   = 12
	offFirmware   = 13
	offPreselect  = 14
	offAttenuator = 15
	offAntenna    = 16
)

// ControlFields are the named fields of a control packet.
type ControlFields struct {
	ID          [2]byte
	RXPhase     uint32
	TXPhase     uint32
	TXLevel     uint8
	TXControl   uint8
	RateCode    uint8
	Firmware    uint8
	Preselector uint8
	Attenuator  uint8
	Antenna     uint8
}

// DefaultID is the identifier real clients put in front of every control packet.
var DefaultID = [2]byte{'S', 't'}

// NewControlPacket lays the fields out at their wire offsets. Reserved bytes
// stay zero.
func NewControlPacket(f ControlFields) []byte {
	buf := make([]byte, ControlPacketSize)
	copy(buf[offID:], f.ID[:])
	binary.LittleEndian.PutUint32(buf[offRXPhase:], f.RXPhase)
	binary.LittleEndian.PutUint32(buf[offTXPhase:], f.TXPhase)
	buf[offTXLevel] = f.TXLevel
	buf[offTXControl] = f.TXControl
	buf[offRateCode] = f.RateCode
	buf[offFirmware] = f.Firmware
	buf[offPreselect] = f.Preselector
	buf[offAttenuator] = f.Attenuator
	buf[offAntenna] = f.Antenna
	return buf
}

// ControlDecode is the result of decoding a control datagram. It is either
// a DecodedControl or a MalformedControl.
type ControlDecode interface {
	Raw() []byte
	isControlDecode()
}

// DecodedControl is a well-formed control packet plus derived values.
type DecodedControl struct {
	ControlFields
	RXFrequency  float64
	TXFrequency  float64
	SampleRate   float64
	SampleRateOK bool

	raw []byte
}

// MalformedControl carries a datagram that could not be decoded.
type MalformedControl struct {
	Reason string

	raw []byte
}

func (d DecodedControl) Raw() []byte   { return d.raw }
func (m MalformedControl) Raw() []byte { return m.raw }

func (DecodedControl) isControlDecode()   {}
func (MalformedControl) isControlDecode() {}

// DecodeControl decodes raw as a control packet against the given reference
// clock. It never panics; anything that is not exactly ControlPacketSize
// bytes comes back as MalformedControl.
func DecodeControl(raw []byte, refClk float64) ControlDecode {
	if len(raw) != ControlPacketSize {
		return MalformedControl{
			Reason: fmt.Sprintf("control packet is %d bytes, want %d", len(raw), ControlPacketSize),
			raw:    raw,
		}
	}
	var f ControlFields
	copy(f.ID[:], raw[offID:offID+2])
	f.RXPhase = binary.LittleEndian.Uint32(raw[offRXPhase:])
	f.TXPhase = binary.LittleEndian.Uint32(raw[offTXPhase:])
	f.TXLevel = raw[offTXLevel]
	f.TXControl = raw[offTXControl]
	f.RateCode = raw[offRateCode]
	f.Firmware = raw[offFirmware]
	f.Preselector = raw[offPreselect]
	f.Attenuator = raw[offAttenuator]
	f.Antenna = raw[offAntenna]

	rate, ok := RateCodeToSampleRate(f.RateCode, refClk)
	return DecodedControl{
		ControlFields: f,
		RXFrequency:   PhaseToFrequency(f.RXPhase, refClk),
		TXFrequency:   PhaseToFrequency(f.TXPhase, refClk),
		SampleRate:    rate,
		SampleRateOK:  ok,
		raw:           raw,
	}
}

// PhaseToFrequency converts a tuning phase word into Hz.
func PhaseToFrequency(phase uint32, refClk float64) float64 {
	return (float64(phase)/(1<<32) - 0.5) * refClk
}

// FrequencyToPhase is the inverse of PhaseToFrequency, rounded to the
// nearest phase word and clamped to the 32-bit range.
func FrequencyToPhase(freq, refClk float64) uint32 {
	if refClk <= 0 {
		return 0
	}
	p := math.Round((freq/refClk + 0.5) * (1 << 32))
	switch {
	case p <= 0:
		return 0
	case p >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(p)
}

// RateCodeToSampleRate converts the RX rate control code into a sample rate.
// Codes 0 and 1 have no defined rate and return ok=false.
func RateCodeToSampleRate(code uint8, refClk float64) (float64, bool) {
	if code <= 1 || refClk <= 0 {
		return 0, false
	}
	return refClk / (float64(code-1) * rateCodeDivider), true
}

// SampleRateToRateCode finds the rate code that yields sampleRate exactly.
func SampleRateToRateCode(sampleRate, refClk float64) (uint8, bool) {
	if sampleRate <= 0 {
		return 0, false
	}
	div := refClk / (sampleRate * rateCodeDivider)
	if div != math.Trunc(div) || div < 1 || div > 254 {
		return 0, false
	}
	return uint8(div) + 1, true
}
