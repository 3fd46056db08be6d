package capture

import (
	"bytes"
	"math"
	"math/rand"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

// SyntheticConfig describes a generated capture holding a single tone.
type SyntheticConfig struct {
	SampleRate float64
	ToneOffset float64 // Hz relative to the tuned frequency
	Amplitude  float64 // fraction of full scale
	NoiseStd   float64
	Frames     int
	Seed       int64
}

// NewSynthetic renders a tone capture in memory. Frame headers carry a
// running sequence byte the way the hardware numbers its packets.
func NewSynthetic(cfg SyntheticConfig) (*Cyclic, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = hiqsdr.DefaultSampleRate
	}
	if cfg.ToneOffset == 0 {
		cfg.ToneOffset = 1000
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.5
	}
	if cfg.Frames == 0 {
		cfg.Frames = 200
	}
	if cfg.NoiseStd == 0 {
		cfg.NoiseStd = 1e-4
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	data := make([]byte, 0, cfg.Frames*hiqsdr.FrameSize)
	iq := make([]complex64, hiqsdr.SamplesPerFrame)
	phaseStep := 2 * math.Pi * cfg.ToneOffset / cfg.SampleRate
	for f := 0; f < cfg.Frames; f++ {
		for i := range iq {
			phase := phaseStep * float64(f*hiqsdr.SamplesPerFrame+i)
			re := cfg.Amplitude*math.Cos(phase) + rng.NormFloat64()*cfg.NoiseStd
			im := cfg.Amplitude*math.Sin(phase) + rng.NormFloat64()*cfg.NoiseStd
			iq[i] = complex64(complex(re, im))
		}
		data = append(data, hiqsdr.EncodeFrame(uint8(f), iq)...)
	}
	return NewCyclic(bytes.NewReader(data), int64(len(data)), hiqsdr.FrameSize)
}
