package cognition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mindwell/convomem/pkg/logger"
)

const (
	defaultQueueSize   = 1024
	defaultSinkTimeout = 2 * time.Second
)

// ErrEmitterStopped is returned when starting an emitter that was stopped.
var ErrEmitterStopped = errors.New("cognition: emitter stopped")

// Sink receives events from the emitter's background worker.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// Telemetry records emitter behavior.
type Telemetry interface {
	RecordEventEmitted(eventType string)
	RecordEventDropped(eventType string)
	RecordSinkError(sink string)
	SetEventQueueDepth(depth int)
}

type nopTelemetry struct{}

func (nopTelemetry) RecordEventEmitted(string) {}
func (nopTelemetry) RecordEventDropped(string) {}
func (nopTelemetry) RecordSinkError(string)    {}
func (nopTelemetry) SetEventQueueDepth(int)    {}

// Options configures an Emitter.
type Options struct {
	QueueSize   int
	SinkTimeout time.Duration
	Logger      logger.Logger
	Telemetry   Telemetry
}

type namedSink struct {
	name string
	sink Sink
}

// Emitter hands events to its sinks from a single background goroutine.
// Emit never blocks: when the queue is full the event is dropped. Sink
// errors are logged and discarded.
type Emitter struct {
	queue       chan Event
	sinkTimeout time.Duration
	log         logger.Logger
	telemetry   Telemetry

	mu      sync.RWMutex
	sinks   []namedSink
	started bool
	stopped bool
	done    chan struct{}
}

// NewEmitter creates an emitter. Call Start to begin delivering events.
func NewEmitter(opts Options) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = nopTelemetry{}
	}
	return &Emitter{
		queue:       make(chan Event, opts.QueueSize),
		sinkTimeout: opts.SinkTimeout,
		log:         opts.Logger.With("component", "cognition"),
		telemetry:   opts.Telemetry,
		done:        make(chan struct{}),
	}
}

// AddSink registers a named sink. Sinks added after Start receive only later
// events.
func (e *Emitter) AddSink(name string, sink Sink) {
	if sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, namedSink{name: name, sink: sink})
}

// Emit enqueues event. It is safe to call on a nil Emitter.
func (e *Emitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		e.telemetry.RecordEventDropped(event.EventType)
		return
	}
	select {
	case e.queue <- event:
		e.telemetry.SetEventQueueDepth(len(e.queue))
	default:
		e.telemetry.RecordEventDropped(event.EventType)
		e.log.Debug("event queue full, dropping event",
			"event_type", event.EventType,
			"session_id", event.SessionID,
		)
	}
}

// Start launches the delivery worker.
func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEmitterStopped
	}
	if e.started {
		return nil
	}
	e.started = true
	go e.run(context.WithoutCancel(ctx))
	return nil
}

// Running reports whether the emitter is started and not yet stopped.
func (e *Emitter) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started && !e.stopped
}

// Stop stops accepting events and waits for queued events to be delivered
// or for ctx to expire.
func (e *Emitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.queue)
	started := e.started
	e.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run(ctx context.Context) {
	defer close(e.done)
	for event := range e.queue {
		e.deliver(ctx, event)
		e.telemetry.SetEventQueueDepth(len(e.queue))
	}
}

func (e *Emitter) deliver(ctx context.Context, event Event) {
	e.mu.RLock()
	sinks := append([]namedSink(nil), e.sinks...)
	e.mu.RUnlock()

	for _, s := range sinks {
		if err := e.publish(ctx, s, event); err != nil {
			e.telemetry.RecordSinkError(s.name)
			e.log.Warn("event sink failed",
				"sink", s.name,
				"event_type", event.EventType,
				"correlation_id", event.CorrelationID,
				"error", err,
			)
		}
	}
	e.telemetry.RecordEventEmitted(event.EventType)
}

func (e *Emitter) publish(ctx context.Context, s namedSink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("sink panicked")
			e.log.Error("event sink panicked", "sink", s.name, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, e.sinkTimeout)
	defer cancel()
	return s.sink.Publish(ctx, event)
}
