package events

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/clinic-booking/pkg/logging"
)

// Handler reacts to one outbox entry. Handlers must tolerate event types they
// don't care about by returning nil.
type Handler interface {
	Name() string
	Handle(ctx context.Context, entry Entry) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, entry Entry) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, entry Entry) error { return h.Fn(ctx, entry) }

// Observer is told the outcome of every handler call.
type Observer func(handler, eventType string, err error)

// Dispatcher fans an entry out to every handler. A failing or panicking
// handler is logged and skipped; it never affects the others or the caller.
type Dispatcher struct {
	handlers []Handler
	logger   *logging.Logger
	timeout  time.Duration
	observe  Observer
}

func NewDispatcher(logger *logging.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		handlers: handlers,
		logger:   logger,
		timeout:  20 * time.Second,
	}
}

func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *Dispatcher) WithObserver(observe Observer) *Dispatcher {
	d.observe = observe
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, entry Entry) {
	for _, h := range d.handlers {
		err := d.invoke(ctx, h, entry)
		if err != nil {
			d.logger.Warn("event handler failed",
				"handler", h.Name(),
				"event_id", entry.ID,
				"type", entry.Type,
				"error", err,
			)
		}
		if d.observe != nil {
			d.observe(h.Name(), entry.Type, err)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, entry Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return h.Handle(hctx, entry)
}
