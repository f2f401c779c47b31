package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group    sarama.ConsumerGroup
	logger   *slog.Logger
	dlq      Publisher
	dlqTopic string
	retries  *retryTracker
}

type ConsumerOption func(*Consumer)

// WithDLQ routes messages that fail permanently, or more than maxAttempts
// times within window, to topic.
func WithDLQ(publisher Publisher, topic string, maxAttempts int, window time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = publisher
		c.dlqTopic = topic
		c.retries = newRetryTracker(maxAttempts, window)
	}
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := &Consumer{
		group:  group,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retries == nil {
		c.retries = newRetryTracker(3, 10*time.Minute)
	}
	return c, nil
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlq,
		dlqTopic:     c.dlqTopic,
		retryTracker: c.retries,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		key := messageKey(msg)
		err := h.handler.HandleMessage(session.Context(), msg)
		if err == nil {
			h.retryTracker.Forget(key)
			session.MarkMessage(msg, "")
			continue
		}

		attempts := h.retryTracker.Next(key, time.Now())
		var dlqErr *DLQError
		permanent := errors.As(err, &dlqErr)
		if h.dlqPublisher == nil || h.dlqTopic == "" || (!permanent && attempts < h.retryTracker.max) {
			// Left unmarked so the message is redelivered after a rebalance.
			h.logger.Error("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempts", attempts, "error", err)
			continue
		}

		if !permanent {
			dlqErr = &DLQError{Err: err, Reason: "retries_exhausted"}
		}
		payload := BuildDLQPayload(msg, dlqErr, attempts)
		if _, _, pubErr := h.dlqPublisher.PublishJSON(session.Context(), h.dlqTopic, string(msg.Key), payload); pubErr != nil {
			h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", pubErr)
			continue
		}
		h.logger.Warn("kafka message sent to dlq", "topic", msg.Topic, "offset", msg.Offset, "reason", dlqErr.Reason)
		h.retryTracker.Forget(key)
		session.MarkMessage(msg, "")
	}
	return nil
}

func messageKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

type retryTracker struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts map[string]*retryEntry
}

type retryEntry struct {
	count int
	reset time.Time
}

func newRetryTracker(max int, window time.Duration) *retryTracker {
	if max <= 0 {
		max = 1
	}
	return &retryTracker{
		max:      max,
		window:   window,
		attempts: map[string]*retryEntry{},
	}
}

// Next records a failed attempt for key and returns the attempt count within
// the current window.
func (r *retryTracker) Next(key string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.attempts {
		if now.After(e.reset) {
			delete(r.attempts, k)
		}
	}
	e, ok := r.attempts[key]
	if !ok {
		e = &retryEntry{reset: now.Add(r.window)}
		r.attempts[key] = e
	}
	e.count++
	return e.count
}

func (r *retryTracker) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}
