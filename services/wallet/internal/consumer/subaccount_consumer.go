package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AfshinJalili/apiwallet/libs/kafka"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/service"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"log/slog"
)

const (
	subaccountCreatedEventType = "subaccount.created"
	subaccountClosedEventType  = "subaccount.closed"
)

type SubaccountEvent struct {
	kafka.Envelope
	SubaccountID    string `json:"subaccount_id"`
	ParentAccountID string `json:"parent_account_id"`
	Label           string `json:"label"`
}

type SubaccountApplier interface {
	SubaccountOpened(accountID uuid.UUID, label string) bool
	SubaccountClosed(accountID uuid.UUID, label string) bool
}

// SubaccountConsumer keeps the per-subaccount wallet allowance of loaded
// sessions in step with the accounts service.
type SubaccountConsumer struct {
	wallets SubaccountApplier
	metrics *service.Metrics
	logger  *slog.Logger
}

func NewSubaccountConsumer(wallets SubaccountApplier, metrics *service.Metrics, logger *slog.Logger) *SubaccountConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubaccountConsumer{
		wallets: wallets,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *SubaccountConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty")
	}
	env, err := kafka.DecodeEnvelope(msg.Value)
	if err != nil {
		c.observe("", "invalid")
		return kafka.DLQ(err, "invalid_envelope")
	}
	if env.EventType != subaccountCreatedEventType && env.EventType != subaccountClosedEventType {
		c.logger.Debug("ignoring subaccount event", "event_type", env.EventType, "event_id", env.EventID)
		c.observe(env.EventType, "ignored")
		return nil
	}

	var event SubaccountEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.observe(env.EventType, "invalid")
		return kafka.DLQ(fmt.Errorf("decode subaccount event: %w", err), "decode")
	}

	parentID, err := uuid.Parse(strings.TrimSpace(event.ParentAccountID))
	if err != nil {
		c.observe(event.EventType, "invalid")
		return kafka.DLQ(fmt.Errorf("invalid parent_account_id: %w", err), "invalid_payload")
	}
	label := strings.TrimSpace(event.Label)
	if label == "" {
		c.observe(event.EventType, "invalid")
		return kafka.DLQ(fmt.Errorf("label is required"), "invalid_payload")
	}

	var applied bool
	if event.EventType == subaccountCreatedEventType {
		applied = c.wallets.SubaccountOpened(parentID, label)
	} else {
		applied = c.wallets.SubaccountClosed(parentID, label)
	}

	status := "skipped"
	if applied {
		status = "applied"
	}
	c.observe(event.EventType, status)
	c.logger.Info("subaccount event handled", "event_type", event.EventType, "event_id", event.EventID, "account_id", parentID, "label", label, "applied", applied)
	return nil
}

func (c *SubaccountConsumer) observe(eventType, status string) {
	if c.metrics == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	c.metrics.SubaccountEvents.WithLabelValues(eventType, status).Inc()
}
