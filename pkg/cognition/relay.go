package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mindwell/convomem/pkg/eventbus"
	"github.com/mindwell/convomem/pkg/logger"
)

// requiredEventFields are the payload fields every cognition event carries
// on the bus.
var requiredEventFields = []string{
	"event_type",
	"correlation_id",
	"session_id",
	"turn_number",
	"timestamp",
	"data",
}

// NewSchemaRouter returns a router that validates cognition event payloads.
func NewSchemaRouter() *eventbus.SchemaRouter {
	router := eventbus.NewSchemaRouter()
	_ = router.RegisterPayloadSchema(eventbus.PayloadSchema{
		SchemaVersion: eventbus.SchemaVersionV1,
		EventType:     "*",
		Required:      requiredEventFields,
	})
	_ = router.RegisterDecoder(eventbus.SchemaVersionV1, func(env eventbus.Envelope) (any, error) {
		var e Event
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("cognition: decode event: %w", err)
		}
		return e, nil
	})
	return router
}

// BusSink publishes events to an event bus. Events of one session share an
// ordering key, so consumers see them in emission order.
type BusSink struct {
	publisher *eventbus.Publisher
}

// NewBusSink creates a sink over publisher.
func NewBusSink(publisher *eventbus.Publisher) *BusSink {
	return &BusSink{publisher: publisher}
}

// Publish implements Sink.
func (s *BusSink) Publish(ctx context.Context, event Event) error {
	_, err := s.publisher.Publish(ctx, eventbus.Outgoing{
		EventType:   event.EventType,
		OrderingKey: event.SessionID,
		Payload:     event,
	})
	return err
}

// RelayOptions configures a Relay.
type RelayOptions struct {
	// NodeID identifies the local publisher. Envelopes it produced are
	// skipped since local sinks already saw them.
	NodeID        string
	SubjectPrefix string
	Buffer        int
	DedupWindow   int
	Logger        logger.Logger
}

// Relay feeds events published by other nodes into local sinks, so every
// node's dashboard sees the whole cluster's activity.
type Relay struct {
	bus      eventbus.Bus
	consumer *eventbus.EnvelopeConsumer
	nodeID   string
	subject  string
	buffer   int
	log      logger.Logger

	mu    sync.RWMutex
	sinks []namedSink
}

// NewRelay creates a relay over bus.
func NewRelay(bus eventbus.Bus, opts RelayOptions) *Relay {
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	return &Relay{
		bus:      bus,
		consumer: eventbus.NewEnvelopeConsumer(NewSchemaRouter(), opts.DedupWindow),
		nodeID:   opts.NodeID,
		subject:  eventbus.WildcardSubject(opts.SubjectPrefix),
		buffer:   opts.Buffer,
		log:      opts.Logger.With("component", "relay"),
	}
}

// AddSink registers a sink for relayed events.
func (r *Relay) AddSink(name string, sink Sink) {
	if sink == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
}

// Run consumes the bus until ctx is done or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, r.subject, r.buffer)
	if err != nil {
		return fmt.Errorf("cognition: subscribe %s: %w", r.subject, err)
	}
	defer sub.Close()

	r.log.Info("event relay started", "subject", r.subject, "node_id", r.nodeID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg eventbus.Message) {
	env, decoded, duplicate, err := r.consumer.DecodeAndValidate(msg.Payload)
	if err != nil {
		r.log.Warn("rejected bus message", "subject", msg.Subject, "error", err)
		return
	}
	if duplicate || env.NodeID == r.nodeID {
		return
	}
	event, ok := decoded.(Event)
	if !ok {
		return
	}

	r.mu.RLock()
	sinks := append([]namedSink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		if err := s.sink.Publish(ctx, event); err != nil {
			r.log.Warn("relay sink failed", "sink", s.name, "event_type", event.EventType, "error", err)
		}
	}
}
