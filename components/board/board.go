// Package board defines the interfaces through which the drive reads encoder edges and drives
// output pins.
package board

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Tick represents a signal received by an interrupt pin. This signal is communicated
// via registered channel to the various drivers.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// A DigitalInterrupt represents a configured interrupt on the board that
// when interrupted, calls the added callbacks.
type DigitalInterrupt interface {
	// Name returns the name of the interrupt.
	Name() string

	// Value returns the number of ticks seen so far.
	Value(ctx context.Context, extra map[string]interface{}) (int64, error)

	// Level returns the level reported by the most recent tick.
	Level(ctx context.Context) (bool, error)

	// Tick is to be called either manually if the interrupt is a proxy to some real
	// hardware interrupt or for tests.
	// nanoseconds is from an arbitrary point in time, but always increasing and always needs
	// to be accurate.
	Tick(ctx context.Context, high bool, nanoseconds uint64) error

	// AddCallback adds a listener for interrupts. Every tick is delivered to every callback in
	// registration order; a send blocks until the listener receives it.
	AddCallback(c chan Tick)

	// RemoveCallback removes a listener for interrupts.
	RemoveCallback(c chan Tick)
}

// A GPIOPin represents an individual GPIO pin on a board.
type GPIOPin interface {
	// Set sets the pin to either low or high.
	Set(ctx context.Context, high bool, extra map[string]interface{}) error

	// Get gets the high/low state of the pin.
	Get(ctx context.Context, extra map[string]interface{}) (bool, error)

	// SetPWMFreq drives a 50% duty square wave at the given frequency. A frequency of 0 stops the
	// wave and leaves the pin low.
	SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error
}

// A Board gives access to the interrupts and pins the drive is wired to.
type Board interface {
	DigitalInterruptByName(name string) (DigitalInterrupt, error)
	GPIOPinByName(name string) (GPIOPin, error)
	Close(ctx context.Context) error
}

// BasicDigitalInterrupt is a software interrupt that fans ticks out to its callbacks. Drivers
// that read real hardware call Tick from their event goroutine.
type BasicDigitalInterrupt struct {
	name  string
	count atomic.Int64
	high  atomic.Bool

	mu        sync.RWMutex
	callbacks []chan Tick
}

// NewBasicDigitalInterrupt returns a named interrupt with no callbacks.
func NewBasicDigitalInterrupt(name string) *BasicDigitalInterrupt {
	return &BasicDigitalInterrupt{name: name}
}

// Name returns the name of the interrupt.
func (i *BasicDigitalInterrupt) Name() string {
	return i.name
}

// Value returns the amount of ticks that have occurred.
func (i *BasicDigitalInterrupt) Value(ctx context.Context, extra map[string]interface{}) (int64, error) {
	return i.count.Load(), nil
}

// Level returns the level of the last tick, low before any tick.
func (i *BasicDigitalInterrupt) Level(ctx context.Context) (bool, error) {
	return i.high.Load(), nil
}

// Tick records the level and delivers the tick to every callback. It returns early if ctx is
// cancelled while a listener is not receiving.
func (i *BasicDigitalInterrupt) Tick(ctx context.Context, high bool, nanoseconds uint64) error {
	i.count.Inc()
	i.high.Store(high)

	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, c := range i.callbacks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c <- Tick{Name: i.name, High: high, TimestampNanosec: nanoseconds}:
		}
	}
	return nil
}

// AddCallback adds a listener for interrupts.
func (i *BasicDigitalInterrupt) AddCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

// RemoveCallback removes a listener for interrupts.
func (i *BasicDigitalInterrupt) RemoveCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id := range i.callbacks {
		if i.callbacks[id] == c {
			// To remove this item, we replace it with the last item in the list, then truncate the
			// list by 1.
			i.callbacks[id] = i.callbacks[len(i.callbacks)-1]
			i.callbacks = i.callbacks[:len(i.callbacks)-1]
			break
		}
	}
}
