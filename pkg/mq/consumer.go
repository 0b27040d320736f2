package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
}

// NewConsumer creates a consumer bound to a specific routing key.
func NewConsumer(url, queueName, routingKey string) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	slog.Info("consumer initialized",
		"routing_key", routingKey,
		"queue", queueName,
		"exchange", ExchangeName,
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming consumes messages until the channel closes. It blocks
// and should be called in a goroutine. A failed message is requeued
// once; a redelivered failure is dropped with a log so a poison message
// cannot loop forever.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"worker",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("consumer started",
		"routing_key", c.routingKey,
		"queue", c.queue.Name,
	)

	for msg := range deliveries {
		c.handleDelivery(msg)
	}

	return nil
}

func (c *Consumer) handleDelivery(msg amqp091.Delivery) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic recovered",
				"routing_key", c.routingKey,
				"queue", c.queue.Name,
				"panic", r,
			)
			c.reject(msg)
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		slog.Error("handler error",
			"routing_key", c.routingKey,
			"queue", c.queue.Name,
			"error", err,
		)
		c.reject(msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"routing_key", c.routingKey,
			"error", err,
		)
	}
}

// reject requeues a first-time failure and drops a redelivered one.
func (c *Consumer) reject(msg amqp091.Delivery) {
	requeue := !msg.Redelivered
	if !requeue {
		slog.Error("dropping message after second failure",
			"routing_key", c.routingKey,
			"queue", c.queue.Name,
		)
	}
	if err := msg.Nack(false, requeue); err != nil {
		slog.Error("failed to nack message",
			"routing_key", c.routingKey,
			"error", err,
		)
	}
}
