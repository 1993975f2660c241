package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher routes jobs to the worker of the chat kind and owns the
// lifecycle of all workers and their destinations.
type Dispatcher struct {
	workers map[string]*Worker
	order   []*Worker
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over workers of distinct kinds.
func NewDispatcher(log *slog.Logger, workers ...*Worker) *Dispatcher {
	d := &Dispatcher{workers: make(map[string]*Worker, len(workers)), log: log}
	for _, w := range workers {
		d.workers[w.Kind()] = w
		d.order = append(d.order, w)
	}
	return d
}

// Enqueue implements Queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	w, ok := d.workers[job.Chat.Type]
	if !ok {
		return fmt.Errorf("chat kind %q: %w", job.Chat.Type, ErrUnknownDestination)
	}
	return w.Enqueue(ctx, job)
}

// Start starts every destination and runs its worker. A destination that
// fails to start is logged; its jobs then fail one by one.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, w := range d.order {
		if err := w.dest.Start(ctx); err != nil {
			d.log.Error("start destination", "destination", w.Kind(), "error", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Shutdown closes all queues, waits until they are drained and stops the
// destinations.
func (d *Dispatcher) Shutdown() {
	for _, w := range d.order {
		w.Close()
	}
	d.wg.Wait()
	for _, w := range d.order {
		w.dest.Stop()
	}
}
