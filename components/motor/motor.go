// Package motor defines the actuators that turn wheel commands into motion.
package motor

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/omnidrive/control"
)

// An Actuator drives the wheel motors. Commands for different wheels may be interleaved but a
// single wheel's commands arrive in order from one goroutine.
type Actuator interface {
	// SetMotorSpeed drives wheelID in dir at magnitude step pulses per second. A magnitude of 0
	// stops the wheel.
	SetMotorSpeed(ctx context.Context, wheelID int, dir control.Direction, magnitude uint32) error

	// Close stops every wheel and releases the hardware.
	Close(ctx context.Context) error
}

// NewUnknownWheelError returns an error for a wheel id the actuator was not configured with.
func NewUnknownWheelError(wheelID int) error {
	return errors.Errorf("no motor configured for wheel %d", wheelID)
}
