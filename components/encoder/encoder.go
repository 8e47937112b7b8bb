// Package encoder holds per-wheel pulse counters and turns them into wheel speeds.
//
// A Channel is built as two handles over one counter. The decoder gets the EdgeCounter and can
// only step it; the sampler gets the CountReader and can only drain it. Both sides are lock free.
package encoder

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DecodePolicy selects how quadrature transitions are classified.
type DecodePolicy string

const (
	// PolicyLegacy counts the four forward transitions up and every other observed pair down.
	PolicyLegacy DecodePolicy = "legacy"
	// PolicyTransitionTable uses the full 4x4 quadrature table. Repeated states count zero and
	// double bit changes count zero and are tallied as invalid.
	PolicyTransitionTable DecodePolicy = "transition_table"
)

// Validate returns an error for unknown policies. The empty policy is legacy.
func (p DecodePolicy) Validate() error {
	switch p {
	case "", PolicyLegacy, PolicyTransitionTable:
		return nil
	default:
		return errors.Errorf("unknown decoder policy %q", p)
	}
}

type channel struct {
	id    int
	count atomic.Int64
}

// EdgeCounter is the decoder side of a channel.
type EdgeCounter struct {
	c *channel
}

// CountReader is the sampler side of a channel.
type CountReader struct {
	c *channel
}

// NewChannel returns both handles of a zeroed channel identified by id.
func NewChannel(id int) (*EdgeCounter, *CountReader) {
	c := &channel{id: id}
	return &EdgeCounter{c}, &CountReader{c}
}

// ID returns the channel id.
func (e *EdgeCounter) ID() int {
	return e.c.id
}

// Inc adds one pulse.
func (e *EdgeCounter) Inc() {
	e.c.count.Inc()
}

// Dec removes one pulse.
func (e *EdgeCounter) Dec() {
	e.c.count.Dec()
}

// ID returns the channel id.
func (r *CountReader) ID() int {
	return r.c.id
}

// ReadAndClear returns the pulses accumulated since the last call and zeroes the count in the
// same atomic operation, so no edge is lost or counted twice.
func (r *CountReader) ReadAndClear() int64 {
	return r.c.count.Swap(0)
}

// Peek returns the current count without clearing it.
func (r *CountReader) Peek() int64 {
	return r.c.count.Load()
}
