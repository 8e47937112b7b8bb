// Package main runs the omni drive: it reads a config, wires the board, actuator and operator
// links to an omni base and runs until interrupted.
package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/omnidrive/components/base"
	"go.viam.com/omnidrive/components/base/omni"
	"go.viam.com/omnidrive/components/board"
	fakeboard "go.viam.com/omnidrive/components/board/fake"
	"go.viam.com/omnidrive/components/board/genericlinux"
	"go.viam.com/omnidrive/components/motor"
	fakemotor "go.viam.com/omnidrive/components/motor/fake"
	"go.viam.com/omnidrive/components/motor/gpiostepper"
	"go.viam.com/omnidrive/components/motor/serial"
	"go.viam.com/omnidrive/config"
	"go.viam.com/omnidrive/link"
	"go.viam.com/omnidrive/link/mqtt"
	"go.viam.com/omnidrive/link/tcp"
	"go.viam.com/omnidrive/logging"
)

const logFileMaxSizeMB = 64

var logger = logging.NewLogger("omnid")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=drive config file (JSON5)"`
	Debug      bool   `flag:"debug,usage=log at debug level"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(ctx, argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	switch {
	case argsParsed.Debug:
		logger.SetLevel(logging.DEBUG)
	case cfg.LogLevel != "":
		level, err := logging.LevelFromString(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	if cfg.LogFile != "" {
		fileAppender := logging.NewFileAppender(cfg.LogFile, logFileMaxSizeMB)
		logger.AddAppender(fileAppender)
		defer func() {
			utils.UncheckedError(fileAppender.Close())
		}()
	}
	logging.ReplaceGlobal(logger)

	return runDrive(ctx, cfg, logger)
}

// drive holds everything runDrive opened, in the order it was opened.
type drive struct {
	board    board.Board
	actuator motor.Actuator
	sinks    link.Sinks
	sources  []link.CommandSource
	base     *omni.Base
}

func (d *drive) close(ctx context.Context) error {
	var errs error
	if d.base != nil {
		errs = multierr.Combine(errs, d.base.Close(ctx))
	}
	if d.actuator != nil {
		errs = multierr.Combine(errs, d.actuator.Close(ctx))
	}
	errs = multierr.Combine(errs, d.sinks.Close())
	if d.board != nil {
		errs = multierr.Combine(errs, d.board.Close(ctx))
	}
	return errs
}

func runDrive(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	d := &drive{}
	defer func() {
		// ctx is done by now; stopping the wheels must not be cut short by it.
		err = multierr.Combine(err, d.close(context.Background()))
	}()

	if err := d.open(ctx, cfg, logger); err != nil {
		return err
	}

	utils.ContextMainReadyFunc(ctx)()
	logger.Infow("drive running", "config", cfg.ConfigFilePath)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, src := range d.sources {
		src := src
		group.Go(func() error {
			return src.Serve(groupCtx, func(cmd base.VelocityCommand) {
				if err := d.base.ApplyCommand(cmd); err != nil {
					logger.Warnw("rejected command", "command", cmd, "error", err)
				}
			})
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *drive) open(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	switch cfg.Board {
	case config.BoardFake:
		d.board = fakeboard.NewBoard(logger.Sublogger("board"))
	default:
		b, err := genericlinux.NewBoard(ctx, cfg.GPIOChip, logger.Sublogger("board"))
		if err != nil {
			return err
		}
		d.board = b
	}

	switch cfg.Actuator {
	case config.ActuatorFake:
		d.actuator = fakemotor.NewActuator(logger.Sublogger("motor"), cfg.WheelIDs()...)
	case config.ActuatorSerial:
		a, err := serial.NewActuator(cfg.Serial, cfg.WheelIDs(), logger.Sublogger("motor"))
		if err != nil {
			return err
		}
		d.actuator = a
	default:
		a, err := gpiostepper.NewActuator(d.board, cfg.StepperPins(), logger.Sublogger("motor"))
		if err != nil {
			return err
		}
		d.actuator = a
	}

	if cfg.Link.TCPAddress != "" {
		l, err := tcp.NewLink(cfg.Link.TCPAddress, logger.Sublogger("link.tcp"))
		if err != nil {
			return err
		}
		d.sinks = append(d.sinks, l)
		d.sources = append(d.sources, l)
	}
	if cfg.Link.MQTT != nil {
		l, err := mqtt.NewLink(ctx, *cfg.Link.MQTT, logger.Sublogger("link.mqtt"))
		if err != nil {
			return err
		}
		d.sinks = append(d.sinks, l)
		d.sources = append(d.sources, l)
	}

	var sink link.Sink
	if len(d.sinks) > 0 {
		sink = d.sinks
	}
	b, err := omni.NewBase(ctx, cfg.OmniConfig(), omni.Dependencies{
		Board:    d.board,
		Actuator: d.actuator,
		Sink:     sink,
	}, logger.Sublogger("base"))
	if err != nil {
		return err
	}
	d.base = b
	return nil
}
