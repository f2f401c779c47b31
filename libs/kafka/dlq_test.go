package kafka

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/IBM/sarama"
)

func TestBuildDLQPayload(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic:     "accounts.subaccounts",
		Partition: 2,
		Offset:    41,
		Key:       []byte("acct-1"),
		Value:     []byte(`{"event_type":"subaccount.created"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte("subaccount.created")},
		},
	}
	payload := BuildDLQPayload(msg, &DLQError{Err: errors.New("bad label"), Reason: "invalid_payload"}, 1)

	if payload.OriginalTopic != "accounts.subaccounts" || payload.Partition != 2 || payload.Offset != 41 {
		t.Fatalf("unexpected position %+v", payload)
	}
	if payload.Key != "acct-1" || payload.EventType != "subaccount.created" {
		t.Fatalf("unexpected key or event type %+v", payload)
	}
	if payload.Error != "bad label" || payload.Reason != "invalid_payload" {
		t.Fatalf("unexpected error fields %+v", payload)
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Payload)
	if err != nil || string(raw) != string(msg.Value) {
		t.Fatalf("payload did not round trip: %v", err)
	}
}

func TestBuildDLQPayloadWithoutMessage(t *testing.T) {
	payload := BuildDLQPayload(nil, &DLQError{Err: errors.New("boom")}, 3)
	if payload.Error != "boom" || payload.Attempts != 3 || payload.OriginalTopic != "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDLQWrapsNil(t *testing.T) {
	if DLQ(nil, "decode") != nil {
		t.Fatalf("expected nil for nil error")
	}
	err := DLQ(errors.New("bad"), "decode")
	var dlqErr *DLQError
	if !errors.As(err, &dlqErr) || dlqErr.Reason != "decode" {
		t.Fatalf("expected DLQError, got %v", err)
	}
}
