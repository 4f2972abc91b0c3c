package message_broker

import "context"

// MessageBroker moves job messages between the poller and the consumer.
type MessageBroker interface {
	// Publish sends message to queue. key identifies the message (the job id)
	// and is carried as the broker message id. Publishing to a queue the
	// broker cannot route to is an error.
	Publish(ctx context.Context, queue string, key string, message []byte) error

	// Consume streams deliveries until ctx is done. Every delivery must be
	// acknowledged or rejected exactly once.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	Close() error
}

// Delivery is one received message together with its settlement callbacks.
type Delivery struct {
	Body      []byte
	MessageID string
	// Attempt is 1 on first delivery and grows with every retry.
	Attempt int

	ack  func() error
	nack func(requeue bool) error
}

func NewDelivery(body []byte, messageID string, attempt int, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Body: body, MessageID: messageID, Attempt: attempt, ack: ack, nack: nack}
}

// Ack confirms the message was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message. With requeue the broker retries it until its
// attempt budget is spent, after which it is dead-lettered.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}
