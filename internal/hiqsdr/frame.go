package hiqsdr

import (
	"errors"
	"math"
)

// fullScale24 normalises signed 24-bit samples to ±1.
const fullScale24 = 1 << 23

// Frame is one sample packet: a 2-byte header followed by interleaved
// signed 24-bit little-endian I/Q pairs.
type Frame []byte

var ErrFrameSize = errors.New("hiqsdr: frame is not 1442 bytes")

// Sequence returns the packet index clients use to count lost frames.
func (f Frame) Sequence() uint8 {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

// IQ decodes the payload into normalised complex samples.
func (f Frame) IQ() ([]complex64, error) {
	raw, err := f.RawIQ()
	if err != nil {
		return nil, err
	}
	out := make([]complex64, SamplesPerFrame)
	for n := range out {
		out[n] = complex(float32(raw[2*n])/fullScale24, float32(raw[2*n+1])/fullScale24)
	}
	return out, nil
}

// RawIQ returns the sign-extended 24-bit samples, interleaved I then Q.
func (f Frame) RawIQ() ([]int32, error) {
	if len(f) != FrameSize {
		return nil, ErrFrameSize
	}
	out := make([]int32, 2*SamplesPerFrame)
	payload := f[FrameHeaderSize:]
	for k := range out {
		out[k] = int24(payload[k*BytesPerSample:])
	}
	return out, nil
}

// EncodeFrame builds a frame from up to SamplesPerFrame samples. Values are
// clamped to ±1; missing samples are zero.
func EncodeFrame(seq uint8, iq []complex64) Frame {
	f := make(Frame, FrameSize)
	f[0] = seq
	payload := f[FrameHeaderSize:]
	for n := 0; n < SamplesPerFrame && n < len(iq); n++ {
		off := n * BytesPerIQPair
		putInt24(payload[off:], scale24(real(iq[n])))
		putInt24(payload[off+BytesPerSample:], scale24(imag(iq[n])))
	}
	return f
}

func int24(b []byte) int32 {
	// shift up and back down to sign-extend bit 23
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	return v << 8 >> 8
}

func putInt24(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func scale24(v float32) int32 {
	s := math.Round(float64(v) * fullScale24)
	if s > fullScale24-1 {
		s = fullScale24 - 1
	}
	if s < -fullScale24 {
		s = -fullScale24
	}
	return int32(s)
}
