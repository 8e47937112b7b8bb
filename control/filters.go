package control

import (
	"math"

	"github.com/pkg/errors"
)

// FilterType names a feedback filter.
type FilterType string

const (
	// FilterButterworth is a first order IIR Butterworth low pass.
	FilterButterworth FilterType = "butterworth"
	// FilterMovingAverage is a FIR moving average over a fixed window.
	FilterMovingAverage FilterType = "moving_average"
	// FilterNone passes samples through.
	FilterNone FilterType = "none"
)

// FilterConfig describes a feedback filter.
type FilterConfig struct {
	Type     FilterType `json:"type"`
	CutoffHz float64    `json:"cutoff_hz,omitempty"`
	Size     int        `json:"size,omitempty"`
}

// Filter smooths a stream of samples.
type Filter interface {
	// Reset clears the filter memory to zero.
	Reset() error
	// Next feeds one sample and returns the filtered value. The bool is false while the filter
	// has not seen enough samples to be meaningful.
	Next(x float64) (float64, bool)
	// Clear sets the filter memory as if it had settled at v.
	Clear(v float64)
}

// NewFilter builds the configured filter for a sampling frequency of smpFreq Hz.
func NewFilter(cfg FilterConfig, smpFreq float64) (Filter, error) {
	var f Filter
	switch cfg.Type {
	case FilterButterworth, "":
		f = &butterworthFilter{smpFreq: smpFreq, cutOffFreq: cfg.CutoffHz}
	case FilterMovingAverage:
		f = &movingAverageFilter{filterSize: cfg.Size}
	case FilterNone:
		f = &passThrough{}
	default:
		return nil, errors.Errorf("unsupported filter type %q", cfg.Type)
	}
	if err := f.Reset(); err != nil {
		return nil, err
	}
	return f, nil
}

// butterworthFilter is the bilinear transform of H(s) = wc / (s + wc), prewarped at the cutoff:
// y[n] = b0*x[n] + b1*x[n-1] - a1*y[n-1].
type butterworthFilter struct {
	smpFreq    float64
	cutOffFreq float64

	b0, b1, a1   float64
	xPrev, yPrev float64
}

func (f *butterworthFilter) Reset() error {
	if f.smpFreq <= 0 {
		return errors.Errorf("butterworth filter needs a positive sampling frequency, got %v", f.smpFreq)
	}
	if f.cutOffFreq <= 0 || f.cutOffFreq >= f.smpFreq/2 {
		return errors.Errorf("butterworth cutoff %vHz must be in (0, %vHz)", f.cutOffFreq, f.smpFreq/2)
	}
	k := math.Tan(math.Pi * f.cutOffFreq / f.smpFreq)
	f.b0 = k / (1 + k)
	f.b1 = f.b0
	f.a1 = (k - 1) / (k + 1)
	f.xPrev, f.yPrev = 0, 0
	return nil
}

func (f *butterworthFilter) Next(x float64) (float64, bool) {
	y := f.b0*x + f.b1*f.xPrev - f.a1*f.yPrev
	f.xPrev, f.yPrev = x, y
	return y, true
}

func (f *butterworthFilter) Clear(v float64) {
	f.xPrev, f.yPrev = v, v
}

type movingAverageFilter struct {
	filterSize int
	data       []float64
	idx        int
	seen       int
	sum        float64
}

func (f *movingAverageFilter) Reset() error {
	if f.filterSize <= 0 {
		return errors.Errorf("moving average filter size must be positive, got %d", f.filterSize)
	}
	f.data = make([]float64, f.filterSize)
	f.idx, f.seen, f.sum = 0, 0, 0
	return nil
}

func (f *movingAverageFilter) Next(x float64) (float64, bool) {
	f.sum += x - f.data[f.idx]
	f.data[f.idx] = x
	f.idx = (f.idx + 1) % f.filterSize
	if f.seen < f.filterSize {
		f.seen++
	}
	return f.sum / float64(f.seen), f.seen == f.filterSize
}

func (f *movingAverageFilter) Clear(v float64) {
	for i := range f.data {
		f.data[i] = v
	}
	f.seen = f.filterSize
	f.sum = v * float64(f.filterSize)
}

type passThrough struct{}

func (passThrough) Reset() error { return nil }

func (passThrough) Next(x float64) (float64, bool) { return x, true }

func (passThrough) Clear(float64) {}
