package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PayloadSchema describes the payload contract of an event type at a schema
// version.
type PayloadSchema struct {
	SchemaVersion string
	EventType     string
	Required      []string
}

// EnvelopeDecoder decodes an envelope into a version-specific view.
type EnvelopeDecoder func(envelope Envelope) (any, error)

// SchemaRouter performs schema version routing and payload validation.
type SchemaRouter struct {
	mu sync.RWMutex

	payloadSchemas map[string]PayloadSchema // key: version:eventType
	wildcards      map[string]PayloadSchema // key: version
	decoders       map[string]EnvelopeDecoder
}

// NewSchemaRouter creates a schema router.
func NewSchemaRouter() *SchemaRouter {
	return &SchemaRouter{
		payloadSchemas: make(map[string]PayloadSchema),
		wildcards:      make(map[string]PayloadSchema),
		decoders:       make(map[string]EnvelopeDecoder),
	}
}

// RegisterPayloadSchema registers a payload contract. An EventType of "*"
// applies to every event type of that version that has no schema of its own.
func (r *SchemaRouter) RegisterPayloadSchema(schema PayloadSchema) error {
	if schema.SchemaVersion == "" || schema.EventType == "" {
		return fmt.Errorf("eventbus: schema version and event type are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if schema.EventType == "*" {
		r.wildcards[schema.SchemaVersion] = schema
		return nil
	}
	r.payloadSchemas[schemaKey(schema.SchemaVersion, schema.EventType)] = schema
	return nil
}

// RegisterDecoder registers a version-specific envelope decoder.
func (r *SchemaRouter) RegisterDecoder(schemaVersion string, decoder EnvelopeDecoder) error {
	if schemaVersion == "" {
		return fmt.Errorf("eventbus: schema version is required")
	}
	if decoder == nil {
		return fmt.Errorf("eventbus: decoder cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[schemaVersion] = decoder
	return nil
}

// ValidateOutgoing validates an envelope before it is published.
func (r *SchemaRouter) ValidateOutgoing(envelope Envelope) error {
	return r.validateEnvelope(envelope)
}

// ValidateIncoming validates a received envelope.
func (r *SchemaRouter) ValidateIncoming(envelope Envelope) error {
	return r.validateEnvelope(envelope)
}

func (r *SchemaRouter) validateEnvelope(envelope Envelope) error {
	if envelope.EventID == "" || envelope.EventType == "" || envelope.SchemaVersion == "" {
		return fmt.Errorf("eventbus: missing required envelope fields")
	}
	if envelope.NodeID == "" || envelope.OrderingKey == "" || envelope.Sequence <= 0 {
		return fmt.Errorf("eventbus: missing required identity/ordering fields")
	}

	r.mu.RLock()
	schema, exists := r.payloadSchemas[schemaKey(envelope.SchemaVersion, envelope.EventType)]
	if !exists {
		schema, exists = r.wildcards[envelope.SchemaVersion]
	}
	r.mu.RUnlock()
	if !exists {
		return nil
	}
	return validatePayloadAgainstSchema(envelope.Payload, schema)
}

// Decode routes envelope by schema version and decodes it.
func (r *SchemaRouter) Decode(envelope Envelope) (any, error) {
	r.mu.RLock()
	decoder := r.decoders[envelope.SchemaVersion]
	r.mu.RUnlock()
	if decoder == nil {
		return envelope, nil
	}
	return decoder(envelope)
}

func validatePayloadAgainstSchema(payload json.RawMessage, schema PayloadSchema) error {
	var payloadMap map[string]json.RawMessage
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return fmt.Errorf("eventbus: invalid payload json: %w", err)
	}
	for _, field := range schema.Required {
		if _, ok := payloadMap[field]; !ok {
			return fmt.Errorf("eventbus: %s: required payload field %q missing", schema.EventType, field)
		}
	}
	return nil
}

func schemaKey(version, eventType string) string {
	return version + ":" + eventType
}
