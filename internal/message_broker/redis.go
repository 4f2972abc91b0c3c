package message_broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is the list element stored in Redis.
type envelope struct {
	ID      string          `json:"id"`
	Attempt int             `json:"attempt"`
	Body    json.RawMessage `json:"body"`
}

// RedisBroker is a reliable list queue: messages move atomically from the
// queue to a processing list and leave it only when acknowledged.
type RedisBroker struct {
	client      *redis.Client
	maxAttempts int
	pollTimeout time.Duration
	logger      *zap.SugaredLogger
}

func NewRedisBroker(client *redis.Client, maxAttempts int, logger *zap.SugaredLogger) *RedisBroker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisBroker{
		client:      client,
		maxAttempts: maxAttempts,
		pollTimeout: time.Second,
		logger:      logging.OrNop(logger),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, queue string, key string, message []byte) error {
	return b.push(ctx, queue, envelope{ID: key, Attempt: 1, Body: message})
}

func (b *RedisBroker) push(ctx context.Context, queue string, env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	if err := b.client.LPush(ctx, queue, raw).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish message %s", env.ID)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to reach redis")
	}

	out := make(chan Delivery)
	processing := processingList(queue)

	go func() {
		defer close(out)

		for ctx.Err() == nil {
			raw, err := b.client.BRPopLPush(ctx, queue, processing, b.pollTimeout).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warnw("redis consume failed", "queue", queue, "error", err)
				select {
				case <-time.After(b.pollTimeout):
				case <-ctx.Done():
					return
				}
				continue
			}

			var env envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				b.logger.Errorw("dropping undecodable message", "queue", queue, "error", err)
				b.client.LRem(context.Background(), processing, 1, raw)
				continue
			}

			select {
			case out <- b.toDelivery(queue, raw, env):
			case <-ctx.Done():
				// hand the message back for the next consumer
				b.settle(queue, raw, &env)
				return
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) toDelivery(queue, raw string, env envelope) Delivery {
	return NewDelivery(
		env.Body,
		env.ID,
		env.Attempt,
		func() error {
			return b.client.LRem(context.Background(), processingList(queue), 1, raw).Err()
		},
		func(requeue bool) error {
			if !requeue || env.Attempt >= b.maxAttempts {
				return b.moveTo(deadLetterQueue(queue), queue, raw, env)
			}
			env.Attempt++
			return b.moveTo(queue, queue, raw, env)
		},
	)
}

// settle returns an undelivered message to its queue without counting an attempt.
func (b *RedisBroker) settle(queue, raw string, env *envelope) {
	if err := b.moveTo(queue, queue, raw, *env); err != nil {
		b.logger.Warnw("failed to return message", "queue", queue, "message_id", env.ID, "error", err)
	}
}

// moveTo removes raw from the processing list and pushes env onto target in one transaction.
func (b *RedisBroker) moveTo(target, queue, raw string, env envelope) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	ctx := context.Background()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingList(queue), 1, raw)
		pipe.LPush(ctx, target, encoded)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to move message %s to %s", env.ID, target)
	}
	return nil
}

func processingList(queue string) string {
	return queue + ".processing"
}

func (b *RedisBroker) Close() error {
	return nil
}
