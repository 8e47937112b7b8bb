// Package config defines the structures to configure the drive and the ways to read them.
package config

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/base/omni"
	"go.viam.com/omnidrive/components/encoder"
	"go.viam.com/omnidrive/components/motor/gpiostepper"
	"go.viam.com/omnidrive/components/motor/serial"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/link/mqtt"
	"go.viam.com/omnidrive/logging"
)

// Board and actuator drivers.
const (
	BoardGenericLinux = "genericlinux"
	BoardFake         = "fake"

	ActuatorGPIOStepper = "gpiostepper"
	ActuatorSerial      = "serial"
	ActuatorFake        = "fake"
)

// Defaults applied by Validate.
const (
	DefaultSamplePeriodMs = 1000
	DefaultMaxPulseRate   = 4000
	DefaultPulsesPerRPM   = 1
	DefaultCutoffHz       = 0.8
)

// A Config describes the drive: its geometry, its controllers and what it is wired to.
type Config struct {
	ConfigFilePath string `json:"-"`

	Mode                control.Mode         `json:"mode,omitempty"`
	DecoderPolicy       encoder.DecodePolicy `json:"decoder_policy,omitempty"`
	PulsesPerRevolution int                  `json:"pulses_per_revolution"`
	SamplePeriodMs      int                  `json:"sample_period_ms,omitempty"`
	Geometry            GeometryConfig       `json:"geometry"`
	PID                 control.PIDConfig    `json:"pid"`
	OpenLoop            OpenLoopConfig       `json:"open_loop"`
	MaxPulseRate        uint32               `json:"max_pulse_rate,omitempty"`
	Filter              control.FilterConfig `json:"filter"`

	Board    string        `json:"board,omitempty"`
	GPIOChip string        `json:"gpio_chip,omitempty"`
	Actuator string        `json:"actuator,omitempty"`
	Serial   serial.Config `json:"serial"`
	Wheels   []WheelConfig `json:"wheels"`
	Link     LinkConfig    `json:"link"`
	LogLevel string        `json:"log_level,omitempty"`
	LogFile  string        `json:"log_file,omitempty"`
}

// GeometryConfig is the wheel layout. Zero values take the reference chassis.
type GeometryConfig struct {
	WheelRadiusM      float64   `json:"wheel_radius_m,omitempty"`
	RobotRadiusM      float64   `json:"robot_radius_m,omitempty"`
	MountingAnglesDeg []float64 `json:"mounting_angles_deg,omitempty"`
}

// OpenLoopConfig tunes the open loop controller.
type OpenLoopConfig struct {
	PulsesPerRPM float64 `json:"pulses_per_rpm,omitempty"`
}

// EncoderPins names the interrupts of a wheel's encoder lines.
type EncoderPins struct {
	A string `json:"a"`
	B string `json:"b"`
}

// WheelConfig describes one wheel. Wheels are listed in mounting angle order.
type WheelConfig struct {
	ID      int                   `json:"id"`
	Encoder EncoderPins           `json:"encoder"`
	Motor   gpiostepper.PinConfig `json:"motor"`
}

// LinkConfig selects the operator links. Both may be set.
type LinkConfig struct {
	TCPAddress string       `json:"tcp_address,omitempty"`
	MQTT       *mqtt.Config `json:"mqtt,omitempty"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (c *Config) Validate(path string) error {
	if c.Mode == "" {
		c.Mode = control.ModeClosedLoop
	}
	switch c.Mode {
	case control.ModeClosedLoop:
		if err := c.PID.Validate(); err != nil {
			return utils.NewConfigValidationError(joinPath(path, "pid"), err)
		}
	case control.ModeOpenLoop:
		if c.OpenLoop.PulsesPerRPM == 0 {
			c.OpenLoop.PulsesPerRPM = DefaultPulsesPerRPM
		}
		if c.OpenLoop.PulsesPerRPM < 0 {
			return utils.NewConfigValidationError(joinPath(path, "open_loop"),
				errors.Errorf("pulses_per_rpm must be positive, got %v", c.OpenLoop.PulsesPerRPM))
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown mode %q", c.Mode))
	}

	if c.DecoderPolicy == "" {
		c.DecoderPolicy = encoder.PolicyLegacy
	}
	if err := c.DecoderPolicy.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}

	if c.PulsesPerRevolution <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "pulses_per_revolution")
	}
	if c.SamplePeriodMs == 0 {
		c.SamplePeriodMs = DefaultSamplePeriodMs
	}
	if c.SamplePeriodMs < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sample_period_ms must be positive, got %d", c.SamplePeriodMs))
	}
	if c.MaxPulseRate == 0 {
		c.MaxPulseRate = DefaultMaxPulseRate
	}

	if err := c.Geometry.validate(joinPath(path, "geometry")); err != nil {
		return err
	}
	if err := c.validateFilter(joinPath(path, "filter")); err != nil {
		return err
	}

	if c.Board == "" {
		c.Board = BoardGenericLinux
	}
	if c.Board != BoardGenericLinux && c.Board != BoardFake {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown board %q", c.Board))
	}
	if c.Actuator == "" {
		c.Actuator = ActuatorGPIOStepper
	}
	switch c.Actuator {
	case ActuatorGPIOStepper, ActuatorFake:
	case ActuatorSerial:
		if err := c.Serial.Validate(joinPath(path, "serial")); err != nil {
			return err
		}
		if c.Serial.BaudRate == 0 {
			c.Serial.BaudRate = serial.DefaultBaudRate
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown actuator %q", c.Actuator))
	}

	if len(c.Wheels) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "wheels")
	}
	if len(c.Wheels) != len(c.Geometry.MountingAnglesDeg) {
		return utils.NewConfigValidationError(path, errors.Errorf(
			"have %d wheels but %d mounting angles", len(c.Wheels), len(c.Geometry.MountingAnglesDeg)))
	}
	seen := map[int]bool{}
	for idx := range c.Wheels {
		wheelPath := fmt.Sprintf("%s.%d", joinPath(path, "wheels"), idx)
		if err := c.Wheels[idx].validate(wheelPath, c.Actuator == ActuatorGPIOStepper); err != nil {
			return err
		}
		if seen[c.Wheels[idx].ID] {
			return utils.NewConfigValidationError(wheelPath, errors.Errorf("duplicate wheel id %d", c.Wheels[idx].ID))
		}
		seen[c.Wheels[idx].ID] = true
	}

	if err := c.Link.validate(joinPath(path, "link")); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError(joinPath(path, "log_level"), err)
		}
	}
	return nil
}

func (g *GeometryConfig) validate(path string) error {
	def := omni.DefaultGeometry()
	if g.WheelRadiusM == 0 {
		g.WheelRadiusM = def.WheelRadius
	}
	if g.RobotRadiusM == 0 {
		g.RobotRadiusM = def.RobotRadius
	}
	if len(g.MountingAnglesDeg) == 0 {
		for _, phi := range def.MountingAngles {
			g.MountingAnglesDeg = append(g.MountingAnglesDeg, phi*180/math.Pi)
		}
	}
	if err := g.geometry().Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (g GeometryConfig) geometry() omni.Geometry {
	angles := make([]float64, len(g.MountingAnglesDeg))
	for i, deg := range g.MountingAnglesDeg {
		angles[i] = deg * math.Pi / 180
	}
	return omni.Geometry{WheelRadius: g.WheelRadiusM, RobotRadius: g.RobotRadiusM, MountingAngles: angles}
}

// validateFilter defaults the cutoff to 0.8 Hz, lowered to a quarter of the sampling frequency
// when the loop samples too slowly for 0.8 Hz to sit below Nyquist.
func (c *Config) validateFilter(path string) error {
	if c.Filter.Type == "" {
		c.Filter.Type = control.FilterButterworth
	}
	switch c.Filter.Type {
	case control.FilterButterworth:
		if c.Filter.CutoffHz == 0 {
			c.Filter.CutoffHz = math.Min(DefaultCutoffHz, 0.25*c.sampleFrequency())
		}
		if c.Filter.CutoffHz < 0 || c.Filter.CutoffHz >= c.sampleFrequency()/2 {
			return utils.NewConfigValidationError(path, errors.Errorf(
				"cutoff_hz must be between 0 and %v, got %v", c.sampleFrequency()/2, c.Filter.CutoffHz))
		}
	case control.FilterMovingAverage:
		if c.Filter.Size <= 0 {
			return utils.NewConfigValidationFieldRequiredError(path, "size")
		}
	case control.FilterNone:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown filter type %q", c.Filter.Type))
	}
	return nil
}

func (w *WheelConfig) validate(path string, needsMotorPins bool) error {
	if w.ID <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "id")
	}
	if w.Encoder.A == "" {
		return utils.NewConfigValidationFieldRequiredError(joinPath(path, "encoder"), "a")
	}
	if w.Encoder.B == "" {
		return utils.NewConfigValidationFieldRequiredError(joinPath(path, "encoder"), "b")
	}
	if needsMotorPins {
		return w.Motor.Validate(joinPath(path, "motor"))
	}
	return nil
}

func (l *LinkConfig) validate(path string) error {
	if l.TCPAddress != "" {
		if _, _, err := net.SplitHostPort(l.TCPAddress); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating tcp_address"))
		}
	}
	if l.MQTT != nil {
		return l.MQTT.Validate(joinPath(path, "mqtt"))
	}
	return nil
}

// SamplePeriod is the control loop period.
func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriodMs) * time.Millisecond
}

func (c *Config) sampleFrequency() float64 {
	return float64(time.Second) / float64(c.SamplePeriod())
}

// WheelIDs returns the wheel ids in order.
func (c *Config) WheelIDs() []int {
	ids := make([]int, len(c.Wheels))
	for i, w := range c.Wheels {
		ids[i] = w.ID
	}
	return ids
}

// StepperPins returns the motor pins of every wheel by id.
func (c *Config) StepperPins() map[int]gpiostepper.PinConfig {
	pins := make(map[int]gpiostepper.PinConfig, len(c.Wheels))
	for _, w := range c.Wheels {
		pins[w.ID] = w.Motor
	}
	return pins
}

// OmniConfig converts a validated config to the base's config.
func (c *Config) OmniConfig() omni.Config {
	wheels := make([]omni.Wheel, len(c.Wheels))
	for i, w := range c.Wheels {
		wheels[i] = omni.Wheel{ID: w.ID, EncoderA: w.Encoder.A, EncoderB: w.Encoder.B}
	}
	return omni.Config{
		Geometry:            c.Geometry.geometry(),
		PulsesPerRevolution: c.PulsesPerRevolution,
		SamplePeriod:        c.SamplePeriod(),
		DecoderPolicy:       c.DecoderPolicy,
		Control: control.Config{
			Mode:         c.Mode,
			PID:          c.PID,
			PulsesPerRPM: c.OpenLoop.PulsesPerRPM,
			MaxPulseRate: c.MaxPulseRate,
			Filter:       c.Filter,
		},
		Wheels: wheels,
	}
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
