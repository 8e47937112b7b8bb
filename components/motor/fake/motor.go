// Package fake implements an actuator that records what it was asked to do.
package fake

import (
	"context"
	"sync"

	"go.viam.com/omnidrive/components/motor"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/logging"
)

// Call is one recorded SetMotorSpeed.
type Call struct {
	WheelID int
	Command control.Command
}

// Actuator is a fake actuator.
type Actuator struct {
	mu     sync.Mutex
	wheels map[int]bool
	calls  []Call
	last   map[int]control.Command
	err    error
	closed bool
	logger logging.Logger
}

var _ motor.Actuator = (*Actuator)(nil)

// NewActuator returns a fake actuator for the given wheel ids.
func NewActuator(logger logging.Logger, wheelIDs ...int) *Actuator {
	wheels := make(map[int]bool, len(wheelIDs))
	for _, id := range wheelIDs {
		wheels[id] = true
	}
	return &Actuator{wheels: wheels, last: map[int]control.Command{}, logger: logger}
}

// SetMotorSpeed records the command, or returns the injected error.
func (a *Actuator) SetMotorSpeed(ctx context.Context, wheelID int, dir control.Direction, magnitude uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.wheels[wheelID] {
		return motor.NewUnknownWheelError(wheelID)
	}
	if a.err != nil {
		return a.err
	}
	cmd := control.Command{Direction: dir, Magnitude: magnitude}
	a.calls = append(a.calls, Call{WheelID: wheelID, Command: cmd})
	a.last[wheelID] = cmd
	a.logger.Debugw("set motor speed", "wheel", wheelID, "direction", dir.String(), "magnitude", magnitude)
	return nil
}

// SetError makes every following SetMotorSpeed fail with err. Pass nil to clear it.
func (a *Actuator) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Calls returns a copy of every recorded call in order.
func (a *Actuator) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Last returns the last command sent to wheelID.
func (a *Actuator) Last(wheelID int) (control.Command, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cmd, ok := a.last[wheelID]
	return cmd, ok
}

// Closed reports whether Close was called.
func (a *Actuator) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close stops every wheel.
func (a *Actuator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.wheels {
		a.last[id] = control.Stop
	}
	a.closed = true
	return nil
}
