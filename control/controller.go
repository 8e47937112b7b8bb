// Package control implements the per wheel velocity controllers: feedback filters, a PID loop and
// the open and closed loop strategies built from them.
package control

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Direction is the motor direction flag sent to an actuator.
type Direction uint8

const (
	// Reverse is encoded as 0 on the wire.
	Reverse Direction = 0
	// Forward is encoded as 1 on the wire.
	Forward Direction = 1
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Command is one actuator instruction: a direction and an unsigned pulse rate.
type Command struct {
	Direction Direction
	Magnitude uint32
}

// Stop is the zero magnitude command.
var Stop = Command{Direction: Forward}

// CommandFromRate rounds a signed pulse rate to a command, clamping the magnitude to limit. A rate
// that rounds to zero is Stop whatever its sign.
func CommandFromRate(rate float64, limit uint32) Command {
	dir := Forward
	if rate < 0 {
		dir = Reverse
		rate = -rate
	}
	mag := math.Round(rate)
	if mag == 0 {
		return Stop
	}
	if mag > float64(limit) {
		mag = float64(limit)
	}
	return Command{Direction: dir, Magnitude: uint32(mag)}
}

// Mode selects the controller strategy.
type Mode string

const (
	// ModeClosedLoop runs a PID on the filtered measured speed.
	ModeClosedLoop Mode = "closed_loop"
	// ModeOpenLoop maps the setpoint straight to a pulse rate.
	ModeOpenLoop Mode = "open_loop"
)

// Config selects and tunes a controller.
type Config struct {
	Mode         Mode
	PID          PIDConfig
	PulsesPerRPM float64
	MaxPulseRate uint32
	Filter       FilterConfig
}

// A Controller turns a wheel setpoint and measured speed into actuator commands. Implementations
// are not safe for concurrent use; one goroutine owns each controller.
type Controller interface {
	// SetSetpoint changes the target in RPM. When the bool is true the returned command should be
	// sent right away instead of waiting for the next sample.
	SetSetpoint(rpm float64) (Command, bool)
	// Next feeds one measured speed, dt after the previous one, and returns the command to send.
	Next(measuredRPM float64, dt time.Duration) Command
	// Setpoint returns the current target in RPM.
	Setpoint() float64
	// Filtered returns the last filtered measurement in RPM.
	Filtered() float64
	// Reset clears the target and all filter and loop memory.
	Reset()
}

// NewController builds the configured controller. smpFreq is the sampling frequency in Hz fed to
// the feedback filter.
func NewController(cfg Config, smpFreq float64) (Controller, error) {
	filter, err := NewFilter(cfg.Filter, smpFreq)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeOpenLoop:
		return NewOpenLoop(cfg.PulsesPerRPM, cfg.MaxPulseRate, filter)
	case ModeClosedLoop, "":
		return NewClosedLoop(cfg.PID, cfg.MaxPulseRate, filter)
	default:
		return nil, errors.Errorf("unknown control mode %q", cfg.Mode)
	}
}

// OpenLoop sends round(rpm * pulsesPerRPM) and ignores feedback, which is only filtered for
// reporting.
type OpenLoop struct {
	pulsesPerRPM float64
	limit        uint32
	filter       Filter
	setpoint     float64
	filtered     float64
}

// NewOpenLoop returns an open loop controller.
func NewOpenLoop(pulsesPerRPM float64, maxPulseRate uint32, filter Filter) (*OpenLoop, error) {
	if pulsesPerRPM <= 0 {
		return nil, errors.Errorf("pulses per rpm must be positive, got %v", pulsesPerRPM)
	}
	if maxPulseRate == 0 {
		return nil, errors.New("max pulse rate must be positive")
	}
	if filter == nil {
		filter = passThrough{}
	}
	return &OpenLoop{pulsesPerRPM: pulsesPerRPM, limit: maxPulseRate, filter: filter}, nil
}

// SetSetpoint seeds the filter with the new target and emits its command immediately.
func (o *OpenLoop) SetSetpoint(rpm float64) (Command, bool) {
	o.setpoint = rpm
	o.filter.Clear(rpm)
	o.filtered = rpm
	return o.command(), true
}

// Next filters the measurement and repeats the setpoint command.
func (o *OpenLoop) Next(measuredRPM float64, dt time.Duration) Command {
	o.filtered, _ = o.filter.Next(measuredRPM)
	return o.command()
}

func (o *OpenLoop) command() Command {
	if o.setpoint == 0 {
		return Stop
	}
	return CommandFromRate(o.setpoint*o.pulsesPerRPM, o.limit)
}

// Setpoint returns the current target in RPM.
func (o *OpenLoop) Setpoint() float64 {
	return o.setpoint
}

// Filtered returns the last filtered measurement in RPM.
func (o *OpenLoop) Filtered() float64 {
	return o.filtered
}

// Reset zeroes the target and filter.
func (o *OpenLoop) Reset() {
	o.setpoint = 0
	o.filtered = 0
	o.filter.Clear(0)
}

// ClosedLoop runs a PID on setpoint minus the filtered measurement.
type ClosedLoop struct {
	pid      *PID
	limit    uint32
	filter   Filter
	setpoint float64
	filtered float64
}

// NewClosedLoop returns a closed loop controller with output clamped to ±maxPulseRate.
func NewClosedLoop(cfg PIDConfig, maxPulseRate uint32, filter Filter) (*ClosedLoop, error) {
	if maxPulseRate == 0 {
		return nil, errors.New("max pulse rate must be positive")
	}
	pid, err := NewPID(cfg, float64(maxPulseRate))
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = passThrough{}
	}
	return &ClosedLoop{pid: pid, limit: maxPulseRate, filter: filter}, nil
}

// SetSetpoint changes the target. A zero target stops the wheel right away and clears the PID;
// any other target takes effect on the next sample. The filter keeps tracking the measurement.
func (c *ClosedLoop) SetSetpoint(rpm float64) (Command, bool) {
	c.setpoint = rpm
	if rpm == 0 {
		c.pid.Reset()
		return Stop, true
	}
	return Command{}, false
}

// Next filters the measurement and steps the PID.
func (c *ClosedLoop) Next(measuredRPM float64, dt time.Duration) Command {
	c.filtered, _ = c.filter.Next(measuredRPM)
	if c.setpoint == 0 {
		return Stop
	}
	return CommandFromRate(c.pid.Next(c.setpoint-c.filtered, dt), c.limit)
}

// Setpoint returns the current target in RPM.
func (c *ClosedLoop) Setpoint() float64 {
	return c.setpoint
}

// Filtered returns the last filtered measurement in RPM.
func (c *ClosedLoop) Filtered() float64 {
	return c.filtered
}

// PID returns the underlying loop.
func (c *ClosedLoop) PID() *PID {
	return c.pid
}

// Reset zeroes the target and clears PID and filter memory.
func (c *ClosedLoop) Reset() {
	c.setpoint = 0
	c.filtered = 0
	c.pid.Reset()
	utils.UncheckedError(c.filter.Reset())
}
