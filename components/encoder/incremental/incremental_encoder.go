// Package incremental decodes a two channel quadrature encoder into pulse counts.
package incremental

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/components/encoder"
	"go.viam.com/omnidrive/logging"
)

/*
	a rotary encoder looks like

	picture from https://github.com/joan2937/pigpio/blob/master/EXAMPLES/C/ROTARY_ENCODER/rotary_encoder.c
	  1   2     3    4    1    2    3    4     1

	          +---------+         +---------+      0
	          |         |         |         |
	A         |         |         |         |
	          |         |         |         |
	+---------+         +---------+         +----- 1

	    +---------+         +---------+            0
	    |         |         |         |
	B   |         |         |         |
	    |         |         |         |
	----+         +---------+         +---------+  1

	States are written AB, so state = a<<1 | b.

	Transition table (transition_table policy)
	    +---------------+----+----+----+----+
	    | pState/nState | 00 | 01 | 10 | 11 |
	    +---------------+----+----+----+----+
	    |       00      | 0  | +1 | -1 | x  |
	    +---------------+----+----+----+----+
	    |       01      | -1 | 0  | x  | +1 |
	    +---------------+----+----+----+----+
	    |       10      | +1 | x  | 0  | -1 |
	    +---------------+----+----+----+----+
	    |       11      | x  | -1 | +1 | 0  |
	    +---------------+----+----+----+----+
	0 -> same state
	x -> impossible state, counted as invalid

	The legacy policy keeps the +1 cells and turns every other cell into -1.
*/

// Transitions keyed by (pState << 2) | nState.
const (
	fwd0001 = 0b0001
	fwd0111 = 0b0111
	fwd1110 = 0b1110
	fwd1000 = 0b1000

	rev0100 = 0b0100
	rev1101 = 0b1101
	rev1011 = 0b1011
	rev0010 = 0b0010
)

// Decoder classifies A/B level changes of one channel and steps its counter.
type Decoder struct {
	counter *encoder.EdgeCounter
	policy  encoder.DecodePolicy
	pState  atomic.Uint32
	invalid atomic.Int64

	logger                  logging.Logger
	cancelCtx               context.Context
	cancelFunc              func()
	attached                atomic.Bool
	activeBackgroundWorkers sync.WaitGroup
}

// NewDecoder returns a decoder stepping counter, starting from state 00.
func NewDecoder(counter *encoder.EdgeCounter, policy encoder.DecodePolicy, logger logging.Logger) (*Decoder, error) {
	if counter == nil {
		return nil, errors.New("decoder needs a counter")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = encoder.PolicyLegacy
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Decoder{
		counter:    counter,
		policy:     policy,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// Edge handles one edge on either line given the levels of both lines right after it. It never
// blocks, allocates or logs.
func (d *Decoder) Edge(a, b bool) {
	nState := levelsToState(a, b)
	transition := d.pState.Swap(nState)<<2 | nState

	switch transition {
	case fwd0001, fwd0111, fwd1110, fwd1000:
		d.counter.Inc()
		return
	}
	if d.policy == encoder.PolicyLegacy {
		d.counter.Dec()
		return
	}
	switch transition {
	case rev0100, rev1101, rev1011, rev0010:
		d.counter.Dec()
	case 0b0000, 0b0101, 0b1010, 0b1111:
	default:
		d.invalid.Inc()
	}
}

// State returns the last stored AB state.
func (d *Decoder) State() uint32 {
	return d.pState.Load()
}

// InvalidTransitions returns how many double bit changes were seen. Always 0 under the legacy
// policy.
func (d *Decoder) InvalidTransitions() int64 {
	return d.invalid.Load()
}

// Policy returns the active decode policy.
func (d *Decoder) Policy() encoder.DecodePolicy {
	return d.policy
}

// Attach subscribes to the ticks of both lines and feeds Edge from a background goroutine until
// Close. The starting state is read from the lines' current levels.
func (d *Decoder) Attach(ctx context.Context, a, b board.DigitalInterrupt) error {
	if !d.attached.CompareAndSwap(false, true) {
		return errors.Errorf("decoder for channel %d already attached", d.counter.ID())
	}

	aLevel, err := a.Level(ctx)
	if err != nil {
		d.logger.Errorw("error reading a level", "channel", d.counter.ID(), "error", err)
	}
	bLevel, err := b.Level(ctx)
	if err != nil {
		d.logger.Errorw("error reading b level", "channel", d.counter.ID(), "error", err)
	}
	d.pState.Store(levelsToState(aLevel, bLevel))

	chanA := make(chan board.Tick)
	chanB := make(chan board.Tick)
	a.AddCallback(chanA)
	b.AddCallback(chanB)

	d.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		defer d.detach(a, b, chanA, chanB)
		for {
			select {
			case <-d.cancelCtx.Done():
				return
			case tick := <-chanA:
				aLevel = tick.High
			case tick := <-chanB:
				bLevel = tick.High
			}
			d.Edge(aLevel, bLevel)
		}
	}, d.activeBackgroundWorkers.Done)
	return nil
}

// Interrupts block on delivery, so keep draining while the callbacks are removed.
func (d *Decoder) detach(a, b board.DigitalInterrupt, chanA, chanB chan board.Tick) {
	removed := make(chan struct{})
	go func() {
		a.RemoveCallback(chanA)
		b.RemoveCallback(chanB)
		close(removed)
	}()
	for {
		select {
		case <-removed:
			return
		case <-chanA:
		case <-chanB:
		}
	}
}

// Close stops the background goroutine, if any.
func (d *Decoder) Close() error {
	d.cancelFunc()
	d.activeBackgroundWorkers.Wait()
	return nil
}

func levelsToState(a, b bool) uint32 {
	var state uint32
	if a {
		state |= 0b10
	}
	if b {
		state |= 0b01
	}
	return state
}
