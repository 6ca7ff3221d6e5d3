// Package events publishes lifecycle events to a RabbitMQ topic exchange so
// external consumers (the chat bot, dashboards) can react without polling the
// API. Publishing is fire-and-forget; a broker outage never blocks or fails
// the triggering state change.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName   = "gamehost"
	publishTimeout = 5 * time.Second
)

// Publisher publishes JSON events to the topic exchange. A nil Publisher is
// valid and publishes nothing, so callers need no broker-configured check.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

// NewPublisher connects to the broker and declares the durable topic
// exchange.
func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, log: logger}, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) {
	if p == nil || p.ch == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal event", "routing_key", routingKey, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.log.Error("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

// SessionStarted announces a new open run for the server.
func (p *Publisher) SessionStarted(ctx context.Context, serverID string) {
	p.publish(ctx, "session.started", map[string]any{
		"server_id": serverID,
		"timestamp": time.Now().Unix(),
	})
}

// SessionStopped announces a closed run and why it closed.
func (p *Publisher) SessionStopped(ctx context.Context, serverID, reason string) {
	p.publish(ctx, "session.stopped", map[string]any{
		"server_id": serverID,
		"reason":    reason,
		"timestamp": time.Now().Unix(),
	})
}

// SessionCrashed announces an unexpected container death.
func (p *Publisher) SessionCrashed(ctx context.Context, serverID string) {
	p.publish(ctx, "session.crashed", map[string]any{
		"server_id": serverID,
		"timestamp": time.Now().Unix(),
	})
}

// BackupCreated announces a new snapshot archive.
func (p *Publisher) BackupCreated(ctx context.Context, serverID, filename string, sizeBytes int64) {
	p.publish(ctx, "backup.created", map[string]any{
		"server_id":  serverID,
		"filename":   filename,
		"size_bytes": sizeBytes,
		"timestamp":  time.Now().Unix(),
	})
}
