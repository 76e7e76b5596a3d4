package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/services"
)

const defaultReconnectDelay = 5 * time.Second

// ErrSessionClosed reports that the broker stopped delivering.
var ErrSessionClosed = errors.New("broker session closed")

// Delivery is one message awaiting settlement.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

// Broker is one connected session with prefetch 1. The delivery channel is
// closed when the session ends.
type Broker interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Dialer opens a new broker session.
type Dialer func(ctx context.Context) (Broker, error)

// Processor runs one task to completion.
type Processor interface {
	Process(ctx context.Context, d Descriptor) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, d Descriptor) error

func (f ProcessorFunc) Process(ctx context.Context, d Descriptor) error { return f(ctx, d) }

// Consumer pulls descriptors one at a time and settles each delivery before
// taking the next.
type Consumer struct {
	dial           Dialer
	processor      Processor
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// Options configures a Consumer.
type Options struct {
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// New constructs a Consumer.
func New(dial Dialer, processor Processor, opts Options) *Consumer {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Consumer{
		dial:           dial,
		processor:      processor,
		reconnectDelay: delay,
		logger:         logging.NewComponentLogger(opts.Logger, "consumer"),
	}
}

// Run consumes until ctx is cancelled, reconnecting with a fixed delay when
// the broker session drops. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		broker, err := c.dial(ctx)
		if err != nil {
			logging.WarnWithContext(c.logger, "broker connection failed", "broker_connect_failed",
				logging.Error(err),
				logging.Duration("retry_in", c.reconnectDelay),
				logging.String(logging.FieldErrorHint, "check broker.url and that RabbitMQ is reachable"),
			)
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		c.logger.Info("consuming task queue", logging.String(logging.FieldEventType, "consumer_started"))
		err = c.consume(ctx, broker)
		if closeErr := broker.Close(); closeErr != nil {
			c.logger.Debug("broker close failed", logging.Error(closeErr))
		}
		if ctx.Err() != nil {
			return nil
		}
		logging.WarnWithContext(c.logger, "broker session ended", "broker_session_ended",
			logging.Error(err),
			logging.Duration("retry_in", c.reconnectDelay),
		)
		if !c.wait(ctx) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, broker Broker) error {
	deliveries, err := broker.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrSessionClosed
			}
			if ctx.Err() != nil {
				// Left unsettled: the broker redelivers it once the channel closes.
				return ctx.Err()
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle settles exactly once: Ack on success, Nack without requeue on any
// decode or processing failure. The task runs detached from ctx, so shutdown
// waits for the task in hand instead of failing it mid-flight.
func (c *Consumer) handle(ctx context.Context, delivery Delivery) {
	descriptor, err := DecodeDescriptor(delivery.Body())
	if err != nil {
		logging.WarnWithContext(c.logger, "discarding undecodable message", "message_rejected",
			logging.Error(err),
			logging.Int("body_bytes", len(delivery.Body())),
			logging.String(logging.FieldErrorHint, "publishers must send {task_id, filename, minio_path}"),
		)
		c.settle(delivery, false)
		return
	}

	taskCtx := services.WithTaskID(context.WithoutCancel(ctx), descriptor.TaskID)
	if err := c.processor.Process(taskCtx, descriptor); err != nil {
		logging.WithContext(taskCtx, c.logger).Info("task rejected",
			logging.String(logging.FieldEventType, "task_nack"),
			logging.String("failure_kind", services.FailureKind(err)),
		)
		c.settle(delivery, false)
		return
	}
	c.settle(delivery, true)
}

func (c *Consumer) settle(delivery Delivery, ok bool) {
	var err error
	if ok {
		err = delivery.Ack()
	} else {
		err = delivery.Nack(false)
	}
	if err != nil {
		logging.ErrorWithContext(c.logger, "delivery settlement failed", "settle_failed",
			logging.Bool("ack", ok),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the broker will redeliver once the channel closes"),
		)
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.reconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
