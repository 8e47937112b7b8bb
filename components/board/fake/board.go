// Package fake implements a fake board whose interrupts are ticked by hand and whose pins
// remember what was written to them.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/logging"
)

// Board is a fake board. Interrupts and pins are created on first lookup.
type Board struct {
	mu       sync.Mutex
	Digitals map[string]*board.BasicDigitalInterrupt
	GPIOPins map[string]*GPIOPin
	closed   bool
	logger   logging.Logger
}

// NewBoard returns a new fake board.
func NewBoard(logger logging.Logger) *Board {
	return &Board{
		Digitals: map[string]*board.BasicDigitalInterrupt{},
		GPIOPins: map[string]*GPIOPin{},
		logger:   logger,
	}
}

// DigitalInterruptByName returns the interrupt by the given name, creating it if needed.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Errorf("board closed, cannot open interrupt %q", name)
	}
	di, ok := b.Digitals[name]
	if !ok {
		di = board.NewBasicDigitalInterrupt(name)
		b.Digitals[name] = di
	}
	return di, nil
}

// GPIOPinByName returns the GPIO pin by the given name, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Errorf("board closed, cannot open pin %q", name)
	}
	p, ok := b.GPIOPins[name]
	if !ok {
		p = &GPIOPin{}
		b.GPIOPins[name] = p
	}
	return p, nil
}

// Close marks the board closed.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.logger.Debug("fake board closed")
	return nil
}

// A GPIOPin reads back the same set values.
type GPIOPin struct {
	high    bool
	pwmFreq uint

	mu sync.Mutex
}

// Set sets the pin to either low or high and stops any square wave.
func (gp *GPIOPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.high = high
	gp.pwmFreq = 0
	return nil
}

// Get gets the high/low state of the pin.
func (gp *GPIOPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.high, nil
}

// SetPWMFreq sets the given pin to the given PWM frequency.
func (gp *GPIOPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.pwmFreq = freqHz
	if freqHz == 0 {
		gp.high = false
	}
	return nil
}

// PWMFreq gets the PWM frequency of the pin.
func (gp *GPIOPin) PWMFreq() uint {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.pwmFreq
}
