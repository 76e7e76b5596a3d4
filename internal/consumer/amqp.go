package consumer

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpHeartbeat = 10 * time.Second

// AMQPBroker is a RabbitMQ session on a durable queue with prefetch 1 and
// manual acknowledgement.
type AMQPBroker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// DialAMQP returns a Dialer for url and queue.
func DialAMQP(url, queue string) Dialer {
	return func(ctx context.Context) (Broker, error) {
		return OpenAMQP(ctx, url, queue)
	}
}

// OpenAMQP connects, declares the queue and sets Qos(1, 0, false).
func OpenAMQP(ctx context.Context, url, queue string) (*AMQPBroker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPBroker{conn: conn, channel: channel, queue: queue}, nil
}

// Consume starts a manual-ack consumer. The returned channel closes when the
// AMQP channel closes or ctx ends.
func (b *AMQPBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	messages, err := b.channel.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", b.queue, err)
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range messages {
			select {
			case out <- amqpDelivery{msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish enqueues a descriptor as a persistent JSON message.
func (b *AMQPBroker) Publish(ctx context.Context, d Descriptor) error {
	body, err := d.Encode()
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	return b.channel.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close closes the connection and its channel.
func (b *AMQPBroker) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

type amqpDelivery struct {
	msg amqp.Delivery
}

func (d amqpDelivery) Body() []byte { return d.msg.Body }

func (d amqpDelivery) Ack() error { return d.msg.Ack(false) }

func (d amqpDelivery) Nack(requeue bool) error { return d.msg.Nack(false, requeue) }
