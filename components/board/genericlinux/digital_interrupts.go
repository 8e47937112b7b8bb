//go:build linux

package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/board"
)

type digitalInterrupt struct {
	boardWorkers *sync.WaitGroup
	interrupt    *board.BasicDigitalInterrupt
	line         *gpio.LineWithEvent
	cancelCtx    context.Context
	cancelFunc   func()
}

// expects to already have lock acquired.
func (b *Board) createDigitalInterrupt(name string, offset uint32) (*digitalInterrupt, error) {
	chip, err := gpio.OpenChip(b.chipDevice)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(offset, gpio.Input, gpio.BothEdges, "omnidrive")
	if err != nil {
		return nil, err
	}

	interrupt := board.NewBasicDigitalInterrupt(name)
	// Seed the level so a decoder attaching now sees the real line state.
	value, err := line.Value()
	if err != nil {
		return nil, multierr.Combine(err, line.Close())
	}
	if value != 0 {
		if err := interrupt.Tick(b.cancelCtx, true, 0); err != nil {
			return nil, multierr.Combine(err, line.Close())
		}
	}

	cancelCtx, cancelFunc := context.WithCancel(b.cancelCtx)
	result := &digitalInterrupt{
		boardWorkers: &b.activeBackgroundWorkers,
		interrupt:    interrupt,
		line:         line,
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
	}
	result.startMonitor()
	return result, nil
}

func (di *digitalInterrupt) startMonitor() {
	di.boardWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-di.cancelCtx.Done():
				return
			case event := <-di.line.Events():
				utils.UncheckedError(di.interrupt.Tick(
					di.cancelCtx, event.RisingEdge, uint64(event.Time.UnixNano())))
			}
		}
	}, di.boardWorkers.Done)
}

// The monitor only reads the events channel, so the line can be closed before it exits.
func (di *digitalInterrupt) Close() error {
	di.cancelFunc()
	return di.line.Close()
}
