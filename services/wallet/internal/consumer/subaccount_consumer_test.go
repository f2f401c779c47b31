package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/kafka"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/service"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type applyCall struct {
	opened    bool
	accountID uuid.UUID
	label     string
}

type fakeApplier struct {
	calls  []applyCall
	loaded bool
}

func (f *fakeApplier) SubaccountOpened(accountID uuid.UUID, label string) bool {
	f.calls = append(f.calls, applyCall{opened: true, accountID: accountID, label: label})
	return f.loaded
}

func (f *fakeApplier) SubaccountClosed(accountID uuid.UUID, label string) bool {
	f.calls = append(f.calls, applyCall{opened: false, accountID: accountID, label: label})
	return f.loaded
}

func buildMessage(t *testing.T, eventType string, parent, label string) *sarama.ConsumerMessage {
	t.Helper()
	event := SubaccountEvent{
		Envelope: kafka.Envelope{
			EventID:      uuid.NewString(),
			EventType:    eventType,
			EventVersion: 1,
			Timestamp:    time.Now().UTC(),
		},
		SubaccountID:    uuid.NewString(),
		ParentAccountID: parent,
		Label:           label,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "accounts.subaccounts", Value: raw}
}

func TestHandleSubaccountEvents(t *testing.T) {
	applier := &fakeApplier{loaded: true}
	metrics := service.NewMetrics(prometheus.NewRegistry())
	c := NewSubaccountConsumer(applier, metrics, nil)
	parent := uuid.New()

	if err := c.HandleMessage(context.Background(), buildMessage(t, subaccountCreatedEventType, parent.String(), " vault-a ")); err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := c.HandleMessage(context.Background(), buildMessage(t, subaccountClosedEventType, parent.String(), "vault-a")); err != nil {
		t.Fatalf("closed: %v", err)
	}

	if len(applier.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(applier.calls))
	}
	if !applier.calls[0].opened || applier.calls[0].accountID != parent || applier.calls[0].label != "vault-a" {
		t.Fatalf("unexpected open call %+v", applier.calls[0])
	}
	if applier.calls[1].opened {
		t.Fatalf("expected close call")
	}
	if got := testutil.ToFloat64(metrics.SubaccountEvents.WithLabelValues(subaccountCreatedEventType, "applied")); got != 1 {
		t.Fatalf("expected applied metric, got %v", got)
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	applier := &fakeApplier{}
	c := NewSubaccountConsumer(applier, nil, nil)
	if err := c.HandleMessage(context.Background(), buildMessage(t, "subaccount.renamed", uuid.NewString(), "x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applier.calls) != 0 {
		t.Fatalf("expected no calls")
	}
}

func TestHandleRejectsBadMessages(t *testing.T) {
	c := NewSubaccountConsumer(&fakeApplier{}, nil, nil)
	cases := map[string]*sarama.ConsumerMessage{
		"empty":        {Topic: "accounts.subaccounts"},
		"bad json":     {Topic: "accounts.subaccounts", Value: []byte("{")},
		"no envelope":  {Topic: "accounts.subaccounts", Value: []byte(`{"label":"x"}`)},
		"bad parent":   buildMessage(t, subaccountCreatedEventType, "nope", "x"),
		"missing name": buildMessage(t, subaccountCreatedEventType, uuid.NewString(), " "),
	}
	for name, msg := range cases {
		err := c.HandleMessage(context.Background(), msg)
		var dlqErr *kafka.DLQError
		if !errors.As(err, &dlqErr) {
			t.Fatalf("%s: expected DLQ error, got %v", name, err)
		}
	}
}
