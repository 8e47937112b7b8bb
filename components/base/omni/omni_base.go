// Package omni implements a holonomic base on omni wheels. Body velocity commands are solved
// into wheel speed setpoints, and one control loop samples the wheel encoders, runs a controller
// per wheel and reports measured speeds to a telemetry sink.
package omni

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/omnidrive/components/base"
	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/components/encoder"
	"go.viam.com/omnidrive/components/encoder/incremental"
	"go.viam.com/omnidrive/components/motor"
	"go.viam.com/omnidrive/control"
	"go.viam.com/omnidrive/link"
	"go.viam.com/omnidrive/logging"
	"go.viam.com/omnidrive/utils"
)

// Wheel names one wheel and the interrupts its encoder lines are wired to. Wheels are listed in
// the same order as the geometry's mounting angles.
type Wheel struct {
	ID       int
	EncoderA string
	EncoderB string
}

// Config describes an omni base.
type Config struct {
	Geometry            Geometry
	PulsesPerRevolution int
	SamplePeriod        time.Duration
	DecoderPolicy       encoder.DecodePolicy
	Control             control.Config
	Wheels              []Wheel
}

// Validate checks the config.
func (cfg *Config) Validate() error {
	if err := cfg.Geometry.Validate(); err != nil {
		return err
	}
	if cfg.PulsesPerRevolution <= 0 {
		return errors.Errorf("pulses per revolution must be positive, got %d", cfg.PulsesPerRevolution)
	}
	if cfg.SamplePeriod <= 0 {
		return errors.Errorf("sample period must be positive, got %v", cfg.SamplePeriod)
	}
	if err := cfg.DecoderPolicy.Validate(); err != nil {
		return err
	}
	if len(cfg.Wheels) != len(cfg.Geometry.MountingAngles) {
		return errors.Errorf("have %d wheels but %d mounting angles", len(cfg.Wheels), len(cfg.Geometry.MountingAngles))
	}
	seen := map[int]bool{}
	for _, w := range cfg.Wheels {
		if w.ID <= 0 {
			return errors.Errorf("wheel id must be positive, got %d", w.ID)
		}
		if seen[w.ID] {
			return errors.Errorf("duplicate wheel id %d", w.ID)
		}
		seen[w.ID] = true
		if w.EncoderA == "" || w.EncoderB == "" {
			return errors.Errorf("wheel %d needs both encoder interrupts", w.ID)
		}
	}
	return nil
}

// Dependencies are the collaborators a base drives. Sink and Clock are optional.
type Dependencies struct {
	Board    board.Board
	Actuator motor.Actuator
	Sink     link.Sink
	Clock    clock.Clock
}

// wheel state. Everything but setpoint is owned by the control loop.
type wheel struct {
	id       int
	decoder  *incremental.Decoder
	ctrl     control.Controller
	setpoint atomic.Float64

	last    control.Command
	written bool
}

// Base is an omni wheel base.
type Base struct {
	cfg      Config
	actuator motor.Actuator
	sink     link.Sink
	clock    clock.Clock
	logger   logging.Logger

	wheels     []*wheel
	ids        []int
	sampler    *encoder.Sampler
	ticker     *clock.Ticker
	lastSample time.Time

	cmdMu      sync.Mutex
	generation atomic.Uint64
	kick       chan struct{}
	telemetry  chan []byte

	actuatorLog rate.Sometimes
	sinkLog     rate.Sometimes

	workers   *utils.StoppableWorkers
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ base.Base = (*Base)(nil)

// NewBase attaches a decoder to every wheel's encoder lines, builds the controllers and starts
// the control loop.
func NewBase(ctx context.Context, cfg Config, deps Dependencies, logger logging.Logger) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Board == nil {
		return nil, errors.New("omni base needs a board")
	}
	if deps.Actuator == nil {
		return nil, errors.New("omni base needs an actuator")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	b := &Base{
		cfg:         cfg,
		actuator:    deps.Actuator,
		sink:        deps.Sink,
		clock:       deps.Clock,
		logger:      logger,
		kick:        make(chan struct{}, 1),
		telemetry:   make(chan []byte, 1),
		actuatorLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		sinkLog:     rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}

	smpFreq := float64(time.Second) / float64(cfg.SamplePeriod)
	readers := make([]*encoder.CountReader, 0, len(cfg.Wheels))
	for _, wc := range cfg.Wheels {
		w, reader, err := b.newWheel(ctx, wc, smpFreq, deps.Board)
		if err != nil {
			return nil, multierr.Combine(err, b.closeDecoders())
		}
		b.wheels = append(b.wheels, w)
		b.ids = append(b.ids, wc.ID)
		readers = append(readers, reader)
	}

	sampler, err := encoder.NewSampler(cfg.PulsesPerRevolution, readers...)
	if err != nil {
		return nil, multierr.Combine(err, b.closeDecoders())
	}
	b.sampler = sampler

	// The ticker is created here so that a mock clock advanced right after NewBase returns still
	// reaches the loop.
	b.ticker = b.clock.Ticker(cfg.SamplePeriod)
	b.lastSample = b.clock.Now()

	b.workers = utils.NewStoppableWorkers(context.Background(), b.controlLoop)
	if b.sink != nil {
		b.workers.Add(b.telemetryLoop)
	}
	logger.Infow("omni base started",
		"wheels", b.ids, "mode", cfg.Control.Mode, "decoder_policy", cfg.DecoderPolicy, "sample_period", cfg.SamplePeriod)
	return b, nil
}

func (b *Base) newWheel(
	ctx context.Context, wc Wheel, smpFreq float64, brd board.Board,
) (*wheel, *encoder.CountReader, error) {
	counter, reader := encoder.NewChannel(wc.ID)
	decoder, err := incremental.NewDecoder(counter, b.cfg.DecoderPolicy, b.logger.Sublogger(fmt.Sprintf("encoder.%d", wc.ID)))
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := control.NewController(b.cfg.Control, smpFreq)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "wheel %d controller", wc.ID)
	}
	a, err := brd.DigitalInterruptByName(wc.EncoderA)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "wheel %d encoder a", wc.ID)
	}
	bi, err := brd.DigitalInterruptByName(wc.EncoderB)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "wheel %d encoder b", wc.ID)
	}
	if err := decoder.Attach(ctx, a, bi); err != nil {
		return nil, nil, err
	}
	return &wheel{id: wc.ID, decoder: decoder, ctrl: ctrl}, reader, nil
}

// ApplyVelocityCommand drives the base at the given body velocity with no heading offset.
func (b *Base) ApplyVelocityCommand(dotX, dotY, dotTheta float64) error {
	return b.ApplyCommand(base.VelocityCommand{DotX: dotX, DotY: dotY, DotTheta: dotTheta})
}

// ApplyCommand solves cmd into wheel setpoints and hands them to the control loop. It does not
// wait for the loop.
func (b *Base) ApplyCommand(cmd base.VelocityCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if b.closed.Load() {
		return errors.New("omni base is closed")
	}

	omegas := WheelVelocities(cmd, b.cfg.Geometry)
	b.cmdMu.Lock()
	for i, w := range b.wheels {
		w.setpoint.Store(RadPerSecToRPM(omegas[i]))
	}
	b.generation.Inc()
	b.cmdMu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
	return nil
}

// Setpoints returns the current wheel setpoints in RPM, in wheel order.
func (b *Base) Setpoints() []float64 {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	out := make([]float64, len(b.wheels))
	for i, w := range b.wheels {
		out[i] = w.setpoint.Load()
	}
	return out
}

// InvalidTransitions returns the invalid quadrature transitions seen per wheel id.
func (b *Base) InvalidTransitions() map[int]int64 {
	out := make(map[int]int64, len(b.wheels))
	for _, w := range b.wheels {
		out[w.id] = w.decoder.InvalidTransitions()
	}
	return out
}

// Stop sets every wheel setpoint to zero.
func (b *Base) Stop(ctx context.Context) error {
	return b.ApplyCommand(base.VelocityCommand{})
}

func (b *Base) controlLoop(ctx context.Context) {
	defer b.ticker.Stop()
	var applied uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.kick:
			applied = b.applySetpoints(ctx, applied)
		case now := <-b.ticker.C:
			applied = b.applySetpoints(ctx, applied)
			dt := now.Sub(b.lastSample)
			if dt <= 0 {
				dt = b.cfg.SamplePeriod
			}
			b.lastSample = now
			b.step(ctx, dt)
		}
	}
}

// applySetpoints pushes the stored setpoints into the controllers if they changed since the
// generation last applied.
func (b *Base) applySetpoints(ctx context.Context, applied uint64) uint64 {
	gen := b.generation.Load()
	if gen == applied {
		return applied
	}
	for _, w := range b.wheels {
		if cmd, now := w.ctrl.SetSetpoint(w.setpoint.Load()); now {
			b.write(ctx, w, cmd)
		}
	}
	return gen
}

func (b *Base) step(ctx context.Context, dt time.Duration) {
	rpms := b.sampler.Sample(dt)
	for i, w := range b.wheels {
		b.write(ctx, w, w.ctrl.Next(rpms[i], dt))
	}
	if b.sink == nil {
		return
	}
	line := FormatStatus(b.ids, rpms)
	select {
	case <-b.telemetry:
	default:
	}
	select {
	case b.telemetry <- line:
	default:
	}
}

// write sends cmd to the actuator unless it is what the wheel is already doing.
func (b *Base) write(ctx context.Context, w *wheel, cmd control.Command) {
	if w.written && w.last == cmd {
		return
	}
	if err := b.actuator.SetMotorSpeed(ctx, w.id, cmd.Direction, cmd.Magnitude); err != nil {
		b.actuatorLog.Do(func() {
			b.logger.Warnw("failed to set motor speed", "wheel", w.id, "error", err)
		})
		return
	}
	w.last = cmd
	w.written = true
}

func (b *Base) telemetryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-b.telemetry:
			if err := b.sink.Send(ctx, line); err != nil {
				b.sinkLog.Do(func() {
					b.logger.Warnw("failed to send telemetry", "error", err)
				})
			}
		}
	}
}

func (b *Base) closeDecoders() error {
	var errs error
	for _, w := range b.wheels {
		errs = multierr.Combine(errs, w.decoder.Close())
	}
	return errs
}

// Close stops the control loop and the decoders, then stops every wheel. The actuator and sink
// stay open.
func (b *Base) Close(ctx context.Context) error {
	var errs error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.workers.Stop()
		errs = b.closeDecoders()
		for _, w := range b.wheels {
			errs = multierr.Combine(errs,
				errors.Wrapf(b.actuator.SetMotorSpeed(ctx, w.id, control.Stop.Direction, control.Stop.Magnitude),
					"failed to stop wheel %d", w.id))
		}
	})
	return errs
}
