// Package hiqsdr holds the wire formats of the HiQSDR network receiver:
// the 22-byte control packet, the 2-byte stream directives and the
// 1442-byte sample frames.
package hiqsdr

import (
	"math"
	"time"
)

const (
	ControlPacketSize = 22
	DirectiveSize     = 2

	FrameSize       = 1442
	FrameHeaderSize = 2
	BytesPerSample  = 3
	BytesPerIQPair  = 2 * BytesPerSample
	SamplesPerFrame = (FrameSize - FrameHeaderSize) / BytesPerIQPair

	DefaultReferenceClock = 122_880_000
	DefaultSampleRate     = 48_000
	DefaultCommandPort    = 48248
	DefaultStreamPort     = 48247

	// Rate codes are decimation-1 of the 1.92 MHz UDP clock.
	rateCodeDivider = 64
)

// FrameInterval is the time one frame covers at the given output sample rate.
// The emulator paces at most one frame per interval.
func FrameInterval(sampleRate float64) time.Duration {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 1) {
		return 0
	}
	return time.Duration(float64(SamplesPerFrame) * float64(time.Second) / sampleRate)
}

// FramesPerSecond is the steady packet cadence for a sample rate.
func FramesPerSecond(sampleRate float64) float64 {
	return sampleRate / SamplesPerFrame
}
