package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/linky-feed-ingester/internal/notify"
	"go.uber.org/zap"
)

// RoutingKeys maps notification kinds to routing keys
type RoutingKeys struct {
	Alert    string
	Progress string
	Run      string
}

func (k RoutingKeys) forKind(kind notify.Kind) string {
	switch kind {
	case notify.KindAlert:
		return k.Alert
	case notify.KindProgress:
		return k.Progress
	}
	return k.Run
}

// Publisher publishes ingestion notifications to RabbitMQ
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	keys     RoutingKeys
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, keys RoutingKeys, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
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

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		keys:     keys,
		logger:   logger,
	}, nil
}

// Notify publishes n as a persistent JSON message
func (p *Publisher) Notify(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	routingKey := p.keys.forKind(n.Kind)
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("published notification",
		zap.String("routing_key", routingKey),
		zap.String("kind", string(n.Kind)),
		zap.String("run_id", n.RunID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
