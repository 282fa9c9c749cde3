package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/config"
	"go.uber.org/zap"
)

// AMQPPublisher publishes domain events to a topic exchange, routed by event type
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(cfg config.MessagingConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		logger:   logger.Named("events"),
	}, nil
}

// Publish sends one event as a persistent JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, event businessflow.DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	// amqp.Channel is not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	p.logger.Debug("event published", zap.String("type", event.Type), zap.String("event_id", event.ID.String()))
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// LogPublisher writes events to the log; used when no broker is configured
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a new log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish logs the event
func (p *LogPublisher) Publish(ctx context.Context, event businessflow.DomainEvent) error {
	p.logger.Info("domain event",
		zap.String("type", event.Type),
		zap.String("event_id", event.ID.String()),
		zap.Uint("klien_id", event.KlienID),
		zap.Any("payload", event.Payload),
	)
	return nil
}
