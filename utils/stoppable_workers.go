// Package utils contains small concurrency helpers shared by the drive components.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of goroutines sharing one context that is cancelled by Stop.
type StoppableWorkers struct {
	mu         sync.Mutex
	cancelCtx  context.Context
	cancelFunc func()
	workers    sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines derived from ctx. They can be
// stopped later.
func NewStoppableWorkers(ctx context.Context, funcs ...func(context.Context)) *StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(ctx)
	sw := &StoppableWorkers{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	sw.Add(funcs...)
	return sw
}

// Add starts a goroutine for each function. After Stop it does nothing.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.workers.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.workers.Done()
			f(sw.cancelCtx)
		})
	}
}

// Stop cancels the shared context and waits for every worker to return. It is safe to call more
// than once.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.workers.Wait()
}

// Context is the context handed to the workers.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.cancelCtx
}
