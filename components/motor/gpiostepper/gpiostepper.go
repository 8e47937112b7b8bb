// Package gpiostepper drives step/dir stepper drivers from board pins. The step pin carries a
// square wave at the commanded pulse rate; the dir pin is high for forward.
package gpiostepper

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/components/motor"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/logging"
)

// PinConfig defines the mapping of where the motor driver is wired to the board.
type PinConfig struct {
	Step          string `json:"step"`
	Direction     string `json:"dir"`
	EnablePinHigh string `json:"en_high,omitempty"`
	EnablePinLow  string `json:"en_low,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *PinConfig) Validate(path string) error {
	if cfg.Step == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "step")
	}
	if cfg.Direction == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	return nil
}

type stepper struct {
	wheelID                     int
	stepPin, dirPin             board.GPIOPin
	enablePinHigh, enablePinLow board.GPIOPin
}

// Actuator drives one stepper per wheel.
type Actuator struct {
	mu       sync.Mutex
	steppers map[int]*stepper
	logger   logging.Logger
}

var _ motor.Actuator = (*Actuator)(nil)

// NewActuator looks up the pins of every wheel on b. Wheels are keyed by id.
func NewActuator(b board.Board, pins map[int]PinConfig, logger logging.Logger) (*Actuator, error) {
	a := &Actuator{steppers: map[int]*stepper{}, logger: logger}
	for id, pc := range pins {
		if err := pc.Validate(fmt.Sprintf("wheels.%d.motor", id)); err != nil {
			return nil, err
		}
		s := &stepper{wheelID: id}
		var err error
		if s.stepPin, err = b.GPIOPinByName(pc.Step); err != nil {
			return nil, err
		}
		if s.dirPin, err = b.GPIOPinByName(pc.Direction); err != nil {
			return nil, err
		}
		if pc.EnablePinHigh != "" {
			if s.enablePinHigh, err = b.GPIOPinByName(pc.EnablePinHigh); err != nil {
				return nil, err
			}
		}
		if pc.EnablePinLow != "" {
			if s.enablePinLow, err = b.GPIOPinByName(pc.EnablePinLow); err != nil {
				return nil, err
			}
		}
		a.steppers[id] = s
	}
	return a, nil
}

// SetMotorSpeed sets the direction pin then the step rate. Zero magnitude stops stepping and
// disables the driver.
func (a *Actuator) SetMotorSpeed(ctx context.Context, wheelID int, dir control.Direction, magnitude uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.steppers[wheelID]
	if !ok {
		return motor.NewUnknownWheelError(wheelID)
	}
	if magnitude == 0 {
		return s.stop(ctx)
	}
	if err := s.dirPin.Set(ctx, dir == control.Forward, nil); err != nil {
		return errors.Wrapf(err, "error setting direction of wheel %d", wheelID)
	}
	if err := s.enable(ctx, true); err != nil {
		return err
	}
	return errors.Wrapf(s.stepPin.SetPWMFreq(ctx, uint(magnitude), nil), "error stepping wheel %d", wheelID)
}

func (s *stepper) stop(ctx context.Context) error {
	return multierr.Combine(
		s.stepPin.SetPWMFreq(ctx, 0, nil),
		s.enable(ctx, false),
	)
}

func (s *stepper) enable(ctx context.Context, on bool) error {
	if s.enablePinHigh != nil {
		if err := s.enablePinHigh.Set(ctx, on, nil); err != nil {
			return err
		}
	}
	if s.enablePinLow != nil {
		if err := s.enablePinLow.Set(ctx, !on, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close stops every wheel.
func (a *Actuator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	for _, s := range a.steppers {
		err = multierr.Combine(err, s.stop(ctx))
	}
	return err
}
