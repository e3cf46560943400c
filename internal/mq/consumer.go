package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"go.uber.org/zap"
)

// ErrMalformedTrigger marks a trigger message that cannot be decoded
var ErrMalformedTrigger = errors.New("malformed trigger message")

// TriggerMessage asks the ingester to start a run
type TriggerMessage struct {
	Mode      feed.Mode `json:"mode"`
	RequestID string    `json:"request_id"`
}

// DecodeTrigger parses a trigger body; an absent mode means recent
func DecodeTrigger(body []byte) (TriggerMessage, error) {
	var msg TriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return TriggerMessage{}, fmt.Errorf("%w: %v", ErrMalformedTrigger, err)
	}
	if msg.Mode == "" {
		msg.Mode = feed.ModeRecent
	}
	mode, err := feed.ParseMode(string(msg.Mode))
	if err != nil {
		return TriggerMessage{}, fmt.Errorf("%w: %v", ErrMalformedTrigger, err)
	}
	msg.Mode = mode
	return msg, nil
}

// TriggerHandler handles one decoded trigger. Returning an error dead-letters the message.
type TriggerHandler func(ctx context.Context, msg TriggerMessage) error

// Consumer consumes ingestion triggers from RabbitMQ
type Consumer struct {
	channel       *amqp.Channel
	queue         string
	prefetchCount int
	logger        *zap.Logger
	handler       TriggerHandler
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Queue         string
	DLQQueue      string
	Exchange      string
	RoutingKey    string
	PrefetchCount int
	Logger        *zap.Logger
	Handler       TriggerHandler
}

// NewConsumer declares the trigger exchange, queue and dead-letter queue
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.Qos(cfg.PrefetchCount, 0, false)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.DLQQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{
		channel:       ch,
		queue:         cfg.Queue,
		prefetchCount: cfg.PrefetchCount,
		logger:        cfg.Logger,
		handler:       cfg.Handler,
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("trigger consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	err := HandleDelivery(ctx, msg.Body, c.handler)
	if err != nil {
		c.logger.Error("failed to process trigger",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)
		// requeue=false routes the message to the DLQ
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ACK message", zap.Error(ackErr))
	}
}

// HandleDelivery decodes body and passes it to handler
func HandleDelivery(ctx context.Context, body []byte, handler TriggerHandler) error {
	trigger, err := DecodeTrigger(body)
	if err != nil {
		return err
	}
	return handler(ctx, trigger)
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
