// Package serial drives a motor controller board over a serial line. Each command is one ASCII
// frame "<wheel>:<dir>:<pulses>\n" where dir is 1 for forward and 0 for reverse.
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/motor"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/logging"
)

// DefaultBaudRate is used when the config leaves it unset.
const DefaultBaudRate = 115200

// Config describes the serial port.
type Config struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if cfg.BaudRate < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("baud_rate must be positive, got %d", cfg.BaudRate))
	}
	return nil
}

// Actuator writes wheel commands to a serial port.
type Actuator struct {
	mu     sync.Mutex
	port   io.WriteCloser
	wheels map[int]bool
	logger logging.Logger
}

var _ motor.Actuator = (*Actuator)(nil)

// NewActuator opens the configured port 8N1.
func NewActuator(cfg Config, wheelIDs []int, logger logging.Logger) (*Actuator, error) {
	if err := cfg.Validate("serial"); err != nil {
		return nil, err
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	port, err := serial.Open(cfg.Path, &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", cfg.Path)
	}
	logger.Infow("opened motor serial port", "path", cfg.Path, "baud_rate", cfg.BaudRate)
	return NewActuatorFromPort(port, wheelIDs, logger), nil
}

// NewActuatorFromPort wraps an already open port.
func NewActuatorFromPort(port io.WriteCloser, wheelIDs []int, logger logging.Logger) *Actuator {
	wheels := make(map[int]bool, len(wheelIDs))
	for _, id := range wheelIDs {
		wheels[id] = true
	}
	return &Actuator{port: port, wheels: wheels, logger: logger}
}

// Frame returns the bytes sent for one command.
func Frame(wheelID int, dir control.Direction, magnitude uint32) []byte {
	return []byte(fmt.Sprintf("%d:%d:%d\n", wheelID, dir, magnitude))
}

// SetMotorSpeed writes one frame.
func (a *Actuator) SetMotorSpeed(ctx context.Context, wheelID int, dir control.Direction, magnitude uint32) error {
	if !a.wheels[wheelID] {
		return motor.NewUnknownWheelError(wheelID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.port.Write(Frame(wheelID, dir, magnitude))
	return errors.Wrapf(err, "failed to write command for wheel %d", wheelID)
}

// Close stops every wheel and closes the port.
func (a *Actuator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	for id := range a.wheels {
		_, writeErr := a.port.Write(Frame(id, control.Stop.Direction, 0))
		err = multierr.Combine(err, writeErr)
	}
	return multierr.Combine(err, a.port.Close())
}
