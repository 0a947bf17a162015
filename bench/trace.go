package bench

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Trace records named signals once per tick.
type Trace struct {
	Freq  float64
	names []string
	cols  map[string][]float64
}

// NewTrace returns an empty trace sampled at freq Hz.
func NewTrace(freq float64, names ...string) *Trace {
	t := &Trace{Freq: freq, names: names, cols: make(map[string][]float64, len(names))}
	for _, n := range names {
		t.cols[n] = nil
	}
	return t
}

// Names returns the signal names in the order they were declared.
func (t *Trace) Names() []string {
	return t.names
}

// Add appends a value to a signal.
func (t *Trace) Add(name string, v float64) {
	if _, ok := t.cols[name]; !ok {
		t.names = append(t.names, name)
	}
	t.cols[name] = append(t.cols[name], v)
}

// Series returns the recorded values of a signal.
func (t *Trace) Series(name string) []float64 {
	return t.cols[name]
}

// Stats summarizes a signal.
type Stats struct {
	Min, Max, Mean, RMS float64
}

// Stats returns the summary of a signal, zero when nothing was recorded.
func (t *Trace) Stats(name string) Stats {
	xs := t.cols[name]
	if len(xs) == 0 {
		return Stats{}
	}
	n := float64(len(xs))
	return Stats{
		Min:  floats.Min(xs),
		Max:  floats.Max(xs),
		Mean: floats.Sum(xs) / n,
		RMS:  floats.Norm(xs, 2) / math.Sqrt(n),
	}
}

// Spectrum returns the single sided amplitude spectrum of xs sampled at freq
// Hz.
func Spectrum(xs []float64, freq float64) (hz, amp []float64) {
	n := len(xs)
	if n < 2 {
		return nil, nil
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, xs)

	hz = make([]float64, len(coeff))
	amp = make([]float64, len(coeff))
	for i, c := range coeff {
		hz[i] = fft.Freq(i) * freq
		amp[i] = 2 * cmplx.Abs(c) / float64(n)
	}
	// DC is not doubled.
	amp[0] /= 2
	return hz, amp
}

// Peak returns the frequency of the strongest non DC component of xs.
func Peak(xs []float64, freq float64) float64 {
	hz, amp := Spectrum(xs, freq)
	if len(amp) < 2 {
		return 0
	}
	return hz[1+floats.MaxIdx(amp[1:])]
}
