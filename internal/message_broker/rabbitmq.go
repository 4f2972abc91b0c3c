package message_broker

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const attemptHeader = "x-keyfire-attempt"

type RabbitMQ struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	exchange    string
	routes      map[string]string // queue name -> binding key
	maxAttempts int
	logger      *zap.SugaredLogger

	// amqp channels are not safe for concurrent publishing
	publishMu sync.Mutex
}

// NewRabbitMQ creates a new instance of RabbitMQ message broker. It declares a
// durable direct exchange, the durable queue and its dead-letter queue.
func NewRabbitMQ(url, exchange, queue, routingKey string, maxAttempts int, logger *zap.SugaredLogger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to open rabbitmq channel")
	}

	if err := declareTopology(ch, exchange, queue, routingKey); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &RabbitMQ{
		conn:        conn,
		channel:     ch,
		exchange:    exchange,
		routes:      map[string]string{queue: routingKey},
		maxAttempts: maxAttempts,
		logger:      logging.OrNop(logger),
	}, nil
}

func declareTopology(ch *amqp.Channel, exchange, queue, routingKey string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return errors.Wrap(err, "failed to declare exchange")
	}

	dead := deadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "failed to declare dead-letter queue")
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dead,
		},
	); err != nil {
		return errors.Wrap(err, "failed to declare queue")
	}

	if err := ch.QueueBind(
		queue,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return errors.Wrap(err, "failed to bind queue")
	}
	return nil
}

// Publish routes message through the exchange with the binding key of queue.
// Only the queue declared at construction is routable.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, key string, message []byte) error {
	routingKey, err := r.routingKeyFor(queue)
	if err != nil {
		return err
	}
	return r.publish(ctx, routingKey, key, message, 1)
}

func (r *RabbitMQ) routingKeyFor(queue string) (string, error) {
	routingKey, ok := r.routes[queue]
	if !ok {
		return "", errors.Newf("queue %s is not bound to exchange %s", queue, r.exchange)
	}
	return routingKey, nil
}

func (r *RabbitMQ) publish(ctx context.Context, routingKey, key string, message []byte, attempt int) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	err := r.channel.PublishWithContext(
		ctx,
		r.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Headers:      amqp.Table{attemptHeader: int32(attempt)},
			Body:         message,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish message %s", key)
	}
	return nil
}

func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	msgs, err := r.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to consume queue %s", queue)
	}

	out := make(chan Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- r.toDelivery(msg):
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) toDelivery(msg amqp.Delivery) Delivery {
	attempt := attemptFromHeaders(msg.Headers)
	return NewDelivery(
		msg.Body,
		msg.MessageId,
		attempt,
		func() error { return msg.Ack(false) },
		func(requeue bool) error {
			if !requeue || attempt >= r.maxAttempts {
				// routed to the dead-letter queue
				return msg.Nack(false, false)
			}
			// republish with a bumped attempt counter, then drop the original
			if err := r.publish(context.Background(), msg.RoutingKey, msg.MessageId, msg.Body, attempt+1); err != nil {
				r.logger.Warnw("failed to schedule retry, requeueing", "message_id", msg.MessageId, "error", err)
				return msg.Nack(false, true)
			}
			return msg.Ack(false)
		},
	)
}

// attemptFromHeaders reads the attempt counter written by publish.
func attemptFromHeaders(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func deadLetterQueue(queue string) string {
	return queue + ".dead"
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
