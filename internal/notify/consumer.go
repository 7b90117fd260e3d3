package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"swiftshop/internal/telemetry"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func InitConsumer(brokers []string, logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

// Consumer turns published lifecycle events into customer emails. Delivery is
// simulated by logging the rendered message; the send path is intentionally
// interchangeable and never reports back to the order flow.
type Consumer struct {
	consumer   sarama.Consumer
	topic      string
	maxRetries int
	logger     *zap.Logger
}

func NewConsumer(consumer sarama.Consumer, topic string, maxRetries int, logger *zap.Logger) *Consumer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Consumer{consumer: consumer, topic: topic, maxRetries: maxRetries, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) error {
	partitionConsumer, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	c.logger.Info("Notification consumer started", zap.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-partitionConsumer.Messages():
			if err := c.handleWithRetry(message); err != nil {
				c.logger.Error("Failed to handle notification after retries", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(message *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.handle(message)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * time.Second
			c.logger.Warn("Retrying notification",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Consumer) handle(message *sarama.ConsumerMessage) error {
	propagator := otel.GetTextMapPropagator()
	carrier := consumedHeaderCarrier(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	_, span := otel.Tracer("notifier").Start(ctx, "SendOrderNotification")
	defer span.End()

	var event Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	span.SetAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.Int64("order.id", event.OrderID),
	)

	body, ok := renderMessage(event)
	if !ok {
		c.logger.Debug("Unknown event kind", zap.String("kind", string(event.Kind)))
		return nil
	}

	telemetry.RecordNotificationSent(string(event.Kind))
	c.logger.Info("Order notification sent",
		zap.String("kind", string(event.Kind)),
		zap.String("order_number", event.OrderNumber),
		zap.String("to", event.CustomerEmail),
		zap.String("message", body),
	)
	return nil
}

func renderMessage(event Event) (string, bool) {
	switch event.Kind {
	case KindOrderCreated:
		return fmt.Sprintf("Hi %s, your order %s totaling %s has been received and is being processed.",
			event.CustomerName, event.OrderNumber, event.TotalAmount), true
	case KindOrderShipped:
		msg := fmt.Sprintf("Hi %s, your order %s has shipped.", event.CustomerName, event.OrderNumber)
		if event.EstimatedDelivery != "" {
			msg += " Estimated delivery: " + event.EstimatedDelivery + "."
		}
		return msg, true
	case KindOrderDelivered:
		return fmt.Sprintf("Hi %s, your order %s has been delivered. Enjoy!",
			event.CustomerName, event.OrderNumber), true
	case KindOrderCancelled:
		msg := fmt.Sprintf("Hi %s, your order %s has been cancelled.", event.CustomerName, event.OrderNumber)
		if event.Reason != "" {
			msg += " Reason: " + event.Reason + "."
		}
		return msg, true
	}
	return "", false
}

// consumedHeaderCarrier adapts consumed message headers for extraction.
type consumedHeaderCarrier []*sarama.RecordHeader

func (c consumedHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c consumedHeaderCarrier) Set(key, value string) {}

func (c consumedHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
