package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when an Async publisher has no room for an event.
var ErrQueueFull = errors.New("events: publish queue full")

// publishTimeout bounds one background publish.
const publishTimeout = 5 * time.Second

type queued struct {
	routingKey string
	event      any
}

// Async hands events to a single background goroutine so a slow or
// unreachable broker never delays the caller. When the queue is full the
// event is dropped and ErrQueueFull returned.
type Async struct {
	next  Publisher
	log   *zap.Logger
	queue chan queued
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker that drains into next.
func NewAsync(next Publisher, size int, log *zap.Logger) *Async {
	a := &Async{
		next:  next,
		log:   log,
		queue: make(chan queued, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for m := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.next.Publish(ctx, m.routingKey, m.event); err != nil {
			a.log.Warn("background publish failed",
				zap.String("routing_key", m.routingKey),
				zap.Error(err))
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, routingKey string, event any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrUnavailable
	}
	select {
	case a.queue <- queued{routingKey: routingKey, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains queued events, then closes next.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
