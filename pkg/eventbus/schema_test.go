package eventbus

import (
	"encoding/json"
	"testing"
)

func TestSchemaRouter_Validate(t *testing.T) {
	router := NewSchemaRouter()
	if err := router.RegisterPayloadSchema(PayloadSchema{
		SchemaVersion: SchemaVersionV1,
		EventType:     "*",
		Required:      []string{"event_type", "session_id"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := router.RegisterPayloadSchema(PayloadSchema{
		SchemaVersion: SchemaVersionV1,
		EventType:     "memory.state.updated",
		Required:      []string{"event_type", "session_id", "data"},
	}); err != nil {
		t.Fatal(err)
	}

	base := Envelope{
		EventID:       "e-1",
		SchemaVersion: SchemaVersionV1,
		NodeID:        "node-1",
		OrderingKey:   "s-1",
		Sequence:      1,
	}

	tests := []struct {
		name      string
		eventType string
		payload   string
		wantErr   bool
	}{
		{"wildcard ok", "memory.topic.faded", `{"event_type":"x","session_id":"s"}`, false},
		{"wildcard missing", "memory.topic.faded", `{"event_type":"x"}`, true},
		{"specific ok", "memory.state.updated", `{"event_type":"x","session_id":"s","data":{}}`, false},
		{"specific missing", "memory.state.updated", `{"event_type":"x","session_id":"s"}`, true},
		{"not an object", "memory.topic.faded", `[1]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := base
			env.EventType = tt.eventType
			env.Payload = json.RawMessage(tt.payload)
			err := router.ValidateIncoming(env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIncoming() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRouter_RejectsIncompleteEnvelope(t *testing.T) {
	router := NewSchemaRouter()
	if err := router.ValidateOutgoing(Envelope{EventID: "e", EventType: "t", SchemaVersion: "v1"}); err == nil {
		t.Error("expected error for missing ordering fields")
	}
}

func TestSchemaRouter_Decode(t *testing.T) {
	router := NewSchemaRouter()
	if err := router.RegisterDecoder(SchemaVersionV1, func(env Envelope) (any, error) {
		return env.EventType, nil
	}); err != nil {
		t.Fatal(err)
	}
	got, err := router.Decode(Envelope{EventType: "memory.topic.faded", SchemaVersion: SchemaVersionV1})
	if err != nil || got != "memory.topic.faded" {
		t.Errorf("Decode() = %v, %v", got, err)
	}
	if err := router.RegisterDecoder("", nil); err == nil {
		t.Error("expected error for empty version")
	}
}
