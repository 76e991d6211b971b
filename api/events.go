package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const subscriberBuffer = 16

// Broker fans change events out to the stream subscribers of this instance.
// A subscriber that falls behind loses events instead of blocking others.
type Broker struct {
	logger *log.Logger

	mu   sync.Mutex
	subs map[chan domain.Event]struct{}
}

func NewBroker(logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{logger: logger, subs: make(map[chan domain.Event]struct{})}
}

func (b *Broker) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Subscribers reports the number of attached subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.WithField("event", ev.ID).Debug("stream subscriber lagging; event dropped")
		}
	}
	return nil
}

// RedisPublisher publishes change events on a Redis pub/sub channel so every
// API instance can forward them to its own stream subscribers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// MultiPublisher publishes to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RelayEvents forwards events received on the Redis channel to pub until ctx
// is done, resubscribing when the subscription drops.
func RelayEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, pub Publisher) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.Event
				if err := sonic.ConfigStd.UnmarshalFromString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("unable to parse change event")
					continue
				}
				if err := pub.Publish(ctx, ev); err != nil {
					logger.WithError(err).WithField("event", ev.ID).Error("relay change event")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
