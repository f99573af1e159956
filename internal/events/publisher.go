// ABOUTME: Optional AMQP mirror for conversation lifecycle events
// ABOUTME: Lets the booking platform react to escalations without polling

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// StateChange is the envelope published when a conversation's escalation
// state changes.
type StateChange struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	Status          string    `json:"status"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	Version         uint64    `json:"version"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher mirrors state changes to an external broker.
type Publisher interface {
	PublishStateChange(ctx context.Context, change StateChange) error
	Close() error
}

// rmqPublisher publishes to a durable topic exchange over AMQP.
type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQP connects to the broker and declares the exchange. Pass nil logger
// for default.
func NewAMQP(url, exchange string, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "events"),
	}, nil
}

// PublishStateChange publishes one state change with routing key
// "livechat.conversation.<status>".
func (p *rmqPublisher) PublishStateChange(ctx context.Context, change StateChange) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now()
	}

	body, err := json.Marshal(change)
	if err != nil {
		return err
	}

	key := "livechat.conversation." + change.Status
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     change.ID,
			CorrelationId: change.ConversationID,
			Timestamp:     change.OccurredAt,
			Body:          body,
		},
	)
	if err == nil {
		p.logger.Debug("published state change",
			"key", key, "conversation_id", change.ConversationID, "status", change.Status)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}
