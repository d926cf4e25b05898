package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RunCompletedEvent is published after every completed ingestion run
type RunCompletedEvent struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Requested      int       `json:"requested"`
	Reported       int       `json:"reported"`
	BatchFailed    int       `json:"batch_failed"`
	Missing        int       `json:"missing"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Errored        int       `json:"errored"`
	ArtifactFolder string    `json:"artifact_folder"`
}

// TriggerMessage is the optional body of a run trigger
type TriggerMessage struct {
	RequestID   string    `json:"request_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// EventPublisher publishes run events
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a publisher on the events exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// PublishRunCompleted publishes a run summary as a persistent message
func (p *Publisher) PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	if err := p.publishJSON(ctx, event, event.RunID, event.FinishedAt); err != nil {
		return err
	}
	p.logger.Debug("published run completed event",
		zap.String("routing_key", p.routingKey),
		zap.String("run_id", event.RunID),
	)
	return nil
}

// PublishTrigger asks the worker consuming the trigger queue to start a run
func (p *Publisher) PublishTrigger(ctx context.Context, msg TriggerMessage) error {
	if err := p.publishJSON(ctx, msg, msg.RequestID, msg.RequestedAt); err != nil {
		return err
	}
	p.logger.Info("published run trigger",
		zap.String("routing_key", p.routingKey),
		zap.String("request_id", msg.RequestID),
	)
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, v any, messageID string, ts time.Time) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    ts,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// NopPublisher drops events. It stands in when RabbitMQ is not configured.
type NopPublisher struct{}

// PublishRunCompleted implements EventPublisher
func (NopPublisher) PublishRunCompleted(context.Context, RunCompletedEvent) error {
	return nil
}
