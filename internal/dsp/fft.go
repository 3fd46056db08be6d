package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FullScale is the magnitude of a full-scale I/Q sample after decoding a
// 24-bit frame.
const FullScale = 1.0

// FFTShift returns a copy of data rotated so that DC sits in the middle.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	out := make([]complex128, n)
	half := n / 2
	copy(out, data[half:])
	copy(out[n-half:], data[:half])
	return out
}

// Spectrum returns the Hamming-windowed power spectrum of iq in dBFS with DC
// centred. A full-scale tone on an exact bin reads 0 dBFS.
func Spectrum(iq []complex64) []float64 {
	return NewAnalyzer(len(iq)).Spectrum(iq)
}

// Analyzer keeps the window and FFT plan for one transform size so repeated
// spectra of equally sized frames reuse them.
type Analyzer struct {
	mu     sync.Mutex
	size   int
	window []float64
	sum    float64
	fft    *fourier.CmplxFFT
}

func NewAnalyzer(size int) *Analyzer {
	a := &Analyzer{}
	a.resize(size)
	return a
}

// Size returns the transform length currently planned.
func (a *Analyzer) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Spectrum is the cached form of the package-level Spectrum. The plan is
// rebuilt when len(iq) differs from Size.
func (a *Analyzer) Spectrum(iq []complex64) []float64 {
	if len(iq) == 0 {
		return []float64{}
	}
	a.mu.Lock()
	if len(iq) != a.size {
		a.resize(len(iq))
	}
	coeffs := a.fft.Coefficients(nil, ApplyWindow(iq, a.window))
	sum := a.sum
	a.mu.Unlock()

	for i := range coeffs {
		coeffs[i] /= complex(sum, 0)
	}
	shifted := FFTShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		dbfs[i] = toDBFS(cmplx.Abs(v))
	}
	return dbfs
}

// PeakBin returns the index and level of the strongest bin.
func PeakBin(dbfs []float64) (int, float64) {
	idx, peak := -1, math.Inf(-1)
	for i, v := range dbfs {
		if v > peak {
			idx, peak = i, v
		}
	}
	return idx, peak
}

// BinFrequency maps a shifted bin index to its offset from the tuned
// frequency in Hz.
func BinFrequency(bin, size int, sampleRate float64) float64 {
	if size == 0 {
		return 0
	}
	return float64(bin-size/2) * sampleRate / float64(size)
}

func (a *Analyzer) resize(size int) {
	a.size = size
	a.window = Hamming(size)
	a.sum = windowSum(a.window)
	a.fft = nil
	if size > 0 {
		a.fft = fourier.NewCmplxFFT(size)
	}
}

func toDBFS(mag float64) float64 {
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag/FullScale)
}
