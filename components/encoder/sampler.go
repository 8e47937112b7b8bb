package encoder

import (
	"time"

	"github.com/pkg/errors"
)

// A Sampler converts the pulses accumulated over one sampling period into RPM for each channel.
type Sampler struct {
	ppr     int
	readers []*CountReader
}

// NewSampler returns a sampler over readers, in the order given. ppr is the number of counted
// pulses per wheel revolution.
func NewSampler(pulsesPerRevolution int, readers ...*CountReader) (*Sampler, error) {
	if pulsesPerRevolution <= 0 {
		return nil, errors.Errorf("pulses per revolution must be positive, got %d", pulsesPerRevolution)
	}
	return &Sampler{ppr: pulsesPerRevolution, readers: readers}, nil
}

// Sample drains every channel and returns its speed in RPM, assuming the counts accumulated over
// period.
func (s *Sampler) Sample(period time.Duration) []float64 {
	rpms := make([]float64, len(s.readers))
	for i, r := range s.readers {
		rpms[i] = CountsToRPM(r.ReadAndClear(), s.ppr, period)
	}
	return rpms
}

// Len returns the number of channels sampled.
func (s *Sampler) Len() int {
	return len(s.readers)
}

// CountsToRPM is count * (60 / ppr) * (1s / period). A non-positive period yields 0.
func CountsToRPM(count int64, pulsesPerRevolution int, period time.Duration) float64 {
	if period <= 0 || pulsesPerRevolution <= 0 {
		return 0
	}
	revs := float64(count) / float64(pulsesPerRevolution)
	return revs * 60 * (float64(time.Second) / float64(period))
}
