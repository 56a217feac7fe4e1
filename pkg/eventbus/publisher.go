package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Telemetry records event-bus pipeline health and publish behavior.
type Telemetry interface {
	RecordPublish(status string)
	RecordRetry()
	SetDegradedMode(active bool)
	RecordOutage()
	RecordRecovery()
}

type nopTelemetry struct{}

func (nopTelemetry) RecordPublish(status string) {}
func (nopTelemetry) RecordRetry()                {}
func (nopTelemetry) SetDegradedMode(active bool) {}
func (nopTelemetry) RecordOutage()               {}
func (nopTelemetry) RecordRecovery()             {}

// RetryConfig controls retry/backoff behavior for publish attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2,
	}
}

// Outgoing is the publish input for one event.
type Outgoing struct {
	EventType     string
	OrderingKey   string
	SchemaVersion string
	Payload       any
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	NodeID        string
	SubjectPrefix string
	Retry         RetryConfig
	Telemetry     Telemetry
	Router        *SchemaRouter
}

// Publisher wraps events in envelopes and publishes them with retry/backoff.
// Consecutive failures put it in degraded mode until a publish succeeds.
type Publisher struct {
	transport Transport
	nodeID    string
	prefix    string
	retry     RetryConfig
	telemetry Telemetry
	router    *SchemaRouter

	mu        sync.Mutex
	sequences map[string]int64
	degraded  bool
}

// NewPublisher creates a publisher over transport.
func NewPublisher(transport Transport, opts PublisherOptions) (*Publisher, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("eventbus: node id cannot be empty")
	}
	if transport == nil {
		return nil, fmt.Errorf("eventbus: transport cannot be nil")
	}
	retry := opts.Retry
	if retry.MaxRetries < 0 {
		return nil, fmt.Errorf("eventbus: max retries cannot be negative")
	}
	if retry.InitialBackoff <= 0 || retry.MaxBackoff <= 0 || retry.BackoffFactor < 1 {
		return nil, fmt.Errorf("eventbus: invalid retry config")
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Publisher{
		transport: transport,
		nodeID:    opts.NodeID,
		prefix:    opts.SubjectPrefix,
		retry:     retry,
		telemetry: telemetry,
		router:    opts.Router,
		sequences: make(map[string]int64),
	}, nil
}

// NodeID returns the node identity stamped on every envelope.
func (p *Publisher) NodeID() string { return p.nodeID }

// Publish publishes one event and returns the envelope that was sent.
func (p *Publisher) Publish(ctx context.Context, event Outgoing) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	if event.EventType == "" {
		return Envelope{}, fmt.Errorf("eventbus: event type cannot be empty")
	}
	if event.OrderingKey == "" {
		return Envelope{}, fmt.Errorf("eventbus: ordering key cannot be empty")
	}

	envelope, err := BuildEnvelope(BuildEnvelopeInput{
		EventType:     event.EventType,
		SchemaVersion: event.SchemaVersion,
		NodeID:        p.nodeID,
		OrderingKey:   event.OrderingKey,
		Sequence:      p.nextSequence(event.OrderingKey),
		Payload:       event.Payload,
	})
	if err != nil {
		return Envelope{}, err
	}
	if p.router != nil {
		if err := p.router.ValidateOutgoing(envelope); err != nil {
			p.telemetry.RecordPublish("invalid")
			return Envelope{}, err
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	subject := Subject(p.prefix, event.EventType)

	backoff := p.retry.InitialBackoff
	var publishErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		publishErr = p.transport.Publish(ctx, subject, body)
		if publishErr == nil {
			p.telemetry.RecordPublish("success")
			p.onPublishRecovered()
			return envelope, nil
		}
		if attempt == p.retry.MaxRetries {
			break
		}
		p.telemetry.RecordRetry()
		p.onPublishOutage()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.retry.MaxBackoff, p.retry.BackoffFactor)
	}

	p.telemetry.RecordPublish("failed")
	p.onPublishOutage()
	return Envelope{}, fmt.Errorf("eventbus: publish failed: %w", publishErr)
}

// Forget drops the sequence counter of orderingKey.
func (p *Publisher) Forget(orderingKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sequences, orderingKey)
}

// Degraded reports whether the publisher currently considers the bus degraded.
func (p *Publisher) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Publisher) nextSequence(orderingKey string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequences[orderingKey]++
	return p.sequences[orderingKey]
}

func (p *Publisher) onPublishOutage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.degraded {
		return
	}
	p.degraded = true
	p.telemetry.SetDegradedMode(true)
	p.telemetry.RecordOutage()
}

func (p *Publisher) onPublishRecovered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.degraded {
		return
	}
	p.degraded = false
	p.telemetry.SetDegradedMode(false)
	p.telemetry.RecordRecovery()
}

func nextBackoff(current, limit time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > limit {
		return limit
	}
	return next
}
