package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RunFunc is the body of a worker. It returns when its input is exhausted or ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Worker runs a single RunFunc in its own goroutine and lets the owner stop or join it.
type Worker struct {
	name       string
	log        *zap.Logger
	runFunc    RunFunc
	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
	mu         sync.Mutex
	err        error
}

// New creates a worker. It does nothing until Start is called.
func New(name string, log *zap.Logger, run RunFunc) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		name:       name,
		log:        log,
		runFunc:    run,
		ctx:        ctx,
		cancelFunc: cancel,
		done:       make(chan struct{}),
	}
}

// Start starts the worker goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.log.Debug("starting " + w.name)
		go w.run()
	})
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancelFunc()

	err := w.runFunc(w.ctx)
	if err == nil || w.ctx.Err() != nil {
		w.log.Debug(w.name + " stopped")
		return
	}

	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.log.Error(w.name+" stopped with error", zap.Error(err))
}

// Done is closed once the run function has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the run function returns on its own.
// If ctx ends first the worker is cancelled, joined, and ctx.Err() is returned.
func (w *Worker) Wait(ctx context.Context) error {
	w.ensureStarted()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.log.Warn(w.name + " did not finish in time, cancelling")
		w.cancelFunc()
		<-w.done
		return ctx.Err()
	}
}

// Stop cancels the worker context and waits for the goroutine to finish.
func (w *Worker) Stop() {
	w.ensureStarted()
	w.log.Debug("stopping " + w.name)
	w.cancelFunc()
	<-w.done
}

// Err returns the error the run function failed with, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// ensureStarted lets Stop and Wait return on a worker that was never started.
func (w *Worker) ensureStarted() {
	w.startOnce.Do(func() {
		close(w.done)
	})
}
