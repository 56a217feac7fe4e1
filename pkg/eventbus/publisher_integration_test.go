package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestIntegration_PublishConsumeOrderingAndDedup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	sub, err := bus.Subscribe(ctx, WildcardSubject(""), 16)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	publisher, err := NewPublisher(bus, PublisherOptions{NodeID: "node-1", Retry: DefaultRetryConfig()})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := publisher.Publish(ctx, Outgoing{
			EventType:   "memory.state.updated",
			OrderingKey: "session-1",
			Payload:     map[string]any{"exchange_number": i + 1},
		})
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	sequences := make([]int64, 0, 3)
	var firstRaw []byte
	for len(sequences) < 3 {
		select {
		case msg := <-sub.C():
			if msg.Subject != "convomem.v1.cognition.memory.state.updated" {
				t.Fatalf("subject = %q", msg.Subject)
			}
			if firstRaw == nil {
				firstRaw = append([]byte(nil), msg.Payload...)
			}
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			sequences = append(sequences, env.Sequence)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for messages, got=%d", len(sequences))
		}
	}
	if sequences[0] != 1 || sequences[1] != 2 || sequences[2] != 3 {
		t.Fatalf("expected sequence [1 2 3], got %v", sequences)
	}

	consumer := NewEnvelopeConsumer(nil, 0)
	_, _, duplicate, err := consumer.DecodeAndValidate(firstRaw)
	if err != nil {
		t.Fatalf("DecodeAndValidate() error = %v", err)
	}
	if duplicate {
		t.Fatal("expected first decode not duplicate")
	}

	_, _, duplicate, err = consumer.DecodeAndValidate(firstRaw)
	if err != nil {
		t.Fatalf("DecodeAndValidate() error = %v", err)
	}
	if !duplicate {
		t.Fatal("expected second decode duplicate=true")
	}
}

func TestPublisher_ForgetRestartsSequence(t *testing.T) {
	bus := NewMemoryBus()
	publisher, err := NewPublisher(bus, PublisherOptions{NodeID: "node-1", Retry: DefaultRetryConfig()})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	ctx := context.Background()
	env, _ := publisher.Publish(ctx, Outgoing{EventType: "memory.state.updated", OrderingKey: "s", Payload: map[string]any{}})
	if env.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", env.Sequence)
	}
	publisher.Forget("s")
	env, _ = publisher.Publish(ctx, Outgoing{EventType: "memory.state.updated", OrderingKey: "s", Payload: map[string]any{}})
	if env.Sequence != 1 {
		t.Fatalf("sequence after Forget = %d, want 1", env.Sequence)
	}
}

func TestPublisher_RejectsInvalidPayload(t *testing.T) {
	router := NewSchemaRouter()
	if err := router.RegisterPayloadSchema(PayloadSchema{
		SchemaVersion: SchemaVersionV1,
		EventType:     "memory.state.updated",
		Required:      []string{"session_id", "data"},
	}); err != nil {
		t.Fatal(err)
	}

	publisher, err := NewPublisher(NewMemoryBus(), PublisherOptions{
		NodeID: "node-1",
		Retry:  DefaultRetryConfig(),
		Router: router,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = publisher.Publish(context.Background(), Outgoing{
		EventType:   "memory.state.updated",
		OrderingKey: "s",
		Payload:     map[string]any{"session_id": "s"},
	})
	if err == nil {
		t.Fatal("expected schema violation")
	}
}

func TestConsumer_DedupWindowIsBounded(t *testing.T) {
	consumer := NewEnvelopeConsumer(nil, 2)
	for _, id := range []string{"a", "b", "c"} {
		if !consumer.remember(id) {
			t.Fatalf("%s reported as duplicate", id)
		}
	}
	if !consumer.remember("a") {
		t.Error("a should have been evicted from the window")
	}
	if consumer.remember("c") {
		t.Error("c should still be in the window")
	}
}
