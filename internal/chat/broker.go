package chat

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Broker fans chat events out across server instances. Every instance
// publishes the events it originates and delivers subscribed events to its
// locally connected sockets.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) <-chan []byte
}

const redisChannel = "chat-events"

// RedisBroker routes events through a Redis pub/sub channel so multiple
// server instances see each other's traffic.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.rdb.Publish(ctx, redisChannel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) <-chan []byte {
	pubsub := b.rdb.Subscribe(ctx, redisChannel)
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// LocalBroker is the single-instance loopback used when no Redis address is
// configured, and in tests.
type LocalBroker struct {
	ch chan []byte
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{ch: make(chan []byte, 64)}
}

func (b *LocalBroker) Publish(ctx context.Context, payload []byte) error {
	select {
	case b.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Subscribe(ctx context.Context) <-chan []byte {
	return b.ch
}
