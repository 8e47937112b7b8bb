//go:build linux

// Package genericlinux implements a board for Linux single board computers. Encoder lines are read
// as edge events through the GPIO character device (mkch's gpio package); output pins go through
// periph.io.
package genericlinux

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"go.viam.com/omnidrive/components/board"
	"go.viam.com/omnidrive/logging"
)

// DefaultChipDevice is the GPIO character device used when none is configured.
const DefaultChipDevice = "/dev/gpiochip0"

// Board is a Linux board. Interrupt names are line offsets on the chip device; pin names are
// anything periph.io's gpioreg knows about (e.g. "GPIO17").
type Board struct {
	chipDevice string
	logger     logging.Logger

	mu         sync.Mutex
	interrupts map[string]*digitalInterrupt

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBoard initializes periph.io host drivers and returns a board reading interrupts from
// chipDevice.
func NewBoard(ctx context.Context, chipDevice string, logger logging.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host drivers")
	}
	if chipDevice == "" {
		chipDevice = DefaultChipDevice
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Board{
		chipDevice: chipDevice,
		logger:     logger,
		interrupts: map[string]*digitalInterrupt{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// DigitalInterruptByName opens the named line for both-edge events on first use.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if di, ok := b.interrupts[name]; ok {
		return di.interrupt, nil
	}
	offset, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "interrupt %q is not a line offset on %s", name, b.chipDevice)
	}
	di, err := b.createDigitalInterrupt(name, uint32(offset))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open interrupt %q", name)
	}
	b.interrupts[name] = di
	return di.interrupt, nil
}

// GPIOPinByName returns the periph.io pin registered under name.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", name)
	}
	return periphGpioPin{pin: pin, pinName: name}, nil
}

// Close stops every interrupt monitor and releases the lines.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	b.cancelFunc()
	var err error
	for _, di := range b.interrupts {
		err = multierr.Combine(err, di.Close())
	}
	b.interrupts = map[string]*digitalInterrupt{}
	b.mu.Unlock()

	b.activeBackgroundWorkers.Wait()
	return err
}

type periphGpioPin struct {
	pin     gpio.PinIO
	pinName string
}

func (gp periphGpioPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return errors.Wrapf(gp.pin.Out(l), "failed to set pin %s", gp.pinName)
}

func (gp periphGpioPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	return gp.pin.Read() == gpio.High, nil
}

// SetPWMFreq runs a half duty square wave, which is what a step input wants.
func (gp periphGpioPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	if freqHz == 0 {
		return gp.Set(ctx, false, extra)
	}
	err := gp.pin.PWM(gpio.DutyHalf, physic.Frequency(freqHz)*physic.Hertz)
	return errors.Wrapf(err, "failed to set pwm frequency %dHz on pin %s", freqHz, gp.pinName)
}
