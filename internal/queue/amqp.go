package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds broker settings.
type Config struct {
	URL         string
	ImportQueue string
	ResultQueue string
	Prefetch    int
}

// Conn is a broker connection with one channel and both queues declared.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  Config
}

// Dial connects and declares the import and result queues as durable.
func Dial(cfg Config) (*Conn, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	for _, name := range []string{cfg.ImportQueue, cfg.ResultQueue} {
		if name == "" {
			continue
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	return &Conn{conn: conn, ch: ch, cfg: cfg}, nil
}

// Close closes the channel and connection.
func (c *Conn) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// PublishJob enqueues an import job.
func (c *Conn) PublishJob(ctx context.Context, job ImportJob) error {
	return c.publish(ctx, c.cfg.ImportQueue, job.ID, job)
}

// PublishResult enqueues a job result. A no-op when no result queue is set.
func (c *Conn) PublishResult(ctx context.Context, res ImportJobResult) error {
	if c.cfg.ResultQueue == "" {
		return nil
	}
	return c.publish(ctx, c.cfg.ResultQueue, res.JobID, res)
}

func (c *Conn) publish(ctx context.Context, queue, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume runs handler for every delivery on the import queue until ctx is
// done or the channel closes.
func (c *Conn) Consume(ctx context.Context, handler *Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	deliveries, err := c.ch.Consume(c.cfg.ImportQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.ImportQueue, err)
	}

	logger.Info("import worker started", "queue", c.cfg.ImportQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("import worker stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel for %s closed", c.cfg.ImportQueue)
			}
			c.deliver(ctx, d, handler, logger)
		}
	}
}

func (c *Conn) deliver(ctx context.Context, d amqp.Delivery, handler *Handler, logger *slog.Logger) {
	res, outcome := handler.Handle(ctx, d.Body)

	if res != nil {
		if err := c.PublishResult(context.WithoutCancel(ctx), *res); err != nil {
			logger.Error("failed to publish import result", "job_id", res.JobID, "error", err)
		}
	}

	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Reject:
		err = d.Nack(false, false)
	case Requeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		logger.Error("failed to settle delivery", "message_id", d.MessageId, "error", err)
	}
}
