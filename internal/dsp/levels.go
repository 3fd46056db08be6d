package dsp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// LevelStats summarises the amplitude of a block of I/Q samples.
type LevelStats struct {
	MeanPowerDBFS float64 `json:"mean_power_dbfs"`
	PeakPowerDBFS float64 `json:"peak_power_dbfs"`
	PowerStdDev   float64 `json:"power_stddev"`
	DCOffsetI     float64 `json:"dc_offset_i"`
	DCOffsetQ     float64 `json:"dc_offset_q"`
}

// Levels computes mean and peak power plus the DC offset of each rail.
// Powers are relative to FullScale.
func Levels(iq []complex64) LevelStats {
	if len(iq) == 0 {
		inf := math.Inf(-1)
		return LevelStats{MeanPowerDBFS: inf, PeakPowerDBFS: inf}
	}
	power := make([]float64, len(iq))
	is := make([]float64, len(iq))
	qs := make([]float64, len(iq))
	peak := 0.0
	for k, v := range iq {
		i, q := float64(real(v)), float64(imag(v))
		is[k], qs[k] = i, q
		power[k] = (i*i + q*q) / (FullScale * FullScale)
		peak = math.Max(peak, power[k])
	}
	mean, std := stat.MeanStdDev(power, nil)
	return LevelStats{
		MeanPowerDBFS: powerDB(mean),
		PeakPowerDBFS: powerDB(peak),
		PowerStdDev:   std,
		DCOffsetI:     stat.Mean(is, nil),
		DCOffsetQ:     stat.Mean(qs, nil),
	}
}

func powerDB(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(p)
}
