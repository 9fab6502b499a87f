package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Emitter is the fire-and-forget audit event producer. Implementations
// must never block the caller and must never surface a failure: a check
// that cannot be audited still completes.
type Emitter interface {
	EmitDecision(ctx context.Context, event DecisionEvent)
	EmitInvalidation(ctx context.Context, event InvalidationEvent)
	Close() error
}

// Sink receives audit events from an emitter. Sinks may block or fail;
// the async emitter isolates callers from both.
type Sink interface {
	WriteDecision(event DecisionEvent) error
	WriteInvalidation(event InvalidationEvent) error
	Close() error
}

// NopEmitter discards all events
type NopEmitter struct{}

func (NopEmitter) EmitDecision(ctx context.Context, event DecisionEvent)         {}
func (NopEmitter) EmitInvalidation(ctx context.Context, event InvalidationEvent) {}
func (NopEmitter) Close() error                                                  { return nil }

// AsyncEmitter decouples check latency from sink latency with a buffered
// channel and a single drain goroutine. When the buffer is full the event
// is dropped and counted instead of blocking the check path.
type AsyncEmitter struct {
	sink    Sink
	events  chan any
	dropped atomic.Uint64
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsyncEmitter starts the drain goroutine. bufferSize bounds how many
// events may be in flight before drops begin; 0 picks a default.
func NewAsyncEmitter(sink Sink, bufferSize int) *AsyncEmitter {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	e := &AsyncEmitter{
		sink:   sink,
		events: make(chan any, bufferSize),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// EmitDecision queues a decision event, dropping it if the buffer is full
func (e *AsyncEmitter) EmitDecision(ctx context.Context, event DecisionEvent) {
	e.enqueue(event)
}

// EmitInvalidation queues an invalidation event
func (e *AsyncEmitter) EmitInvalidation(ctx context.Context, event InvalidationEvent) {
	e.enqueue(event)
}

// Dropped returns how many events were discarded due to backpressure
func (e *AsyncEmitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops accepting events, flushes the buffer and closes the sink
func (e *AsyncEmitter) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.events)
	e.closeMu.Unlock()

	<-e.done
	return e.sink.Close()
}

func (e *AsyncEmitter) enqueue(event any) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.events <- event:
	default:
		e.dropped.Add(1)
	}
}

// drain forwards queued events to the sink. Sink errors are swallowed by
// contract; the sink itself is responsible for logging them.
func (e *AsyncEmitter) drain() {
	defer close(e.done)
	for event := range e.events {
		switch ev := event.(type) {
		case DecisionEvent:
			_ = e.sink.WriteDecision(ev)
		case InvalidationEvent:
			_ = e.sink.WriteInvalidation(ev)
		}
	}
}
