package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannelPrefix = "convomem:"

// RedisBus is a Redis Pub/Sub backed Bus. Subjects map to channels under a
// prefix; subscription patterns map to Redis glob patterns.
type RedisBus struct {
	client        redis.UniversalClient
	channelPrefix string

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	onDrop func(subject string)
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(client redis.UniversalClient, channelPrefix string) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = defaultRedisChannelPrefix
	}
	return &RedisBus{
		client:        client,
		channelPrefix: channelPrefix,
		subs:          make(map[*Subscription]struct{}),
	}
}

// OnDrop registers a callback invoked when a slow subscriber misses a message.
func (b *RedisBus) OnDrop(fn func(subject string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish sends payload to the channel of subject.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if err := b.client.Publish(ctx, b.channelPrefix+subject, payload).Err(); err != nil {
		return fmt.Errorf("eventbus: redis publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe subscribes to subjects matching pattern.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	pubsub := b.client.PSubscribe(ctx, b.channelPrefix+redisPattern(pattern))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("eventbus: redis subscribe %s: %w", pattern, err)
	}

	ch := make(chan Message, buffer)
	fwdCtx, cancel := context.WithCancel(context.Background())
	var sub *Subscription
	sub = newSubscription(ctx, pattern, ch, func() {
		cancel()
		_ = pubsub.Close()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})
	b.subs[sub] = struct{}{}

	go b.forward(fwdCtx, pubsub, pattern, ch)
	return sub, nil
}

// forward copies Redis messages into ch. It keeps the newest messages when
// the subscriber falls behind.
func (b *RedisBus) forward(ctx context.Context, pubsub *redis.PubSub, pattern string, ch chan Message) {
	redisCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			subject := strings.TrimPrefix(msg.Channel, b.channelPrefix)
			if !SubjectMatches(pattern, subject) {
				continue
			}
			out := Message{Subject: subject, Payload: []byte(msg.Payload), Timestamp: time.Now().UTC()}
			select {
			case <-ctx.Done():
				return
			case ch <- out:
			default:
				b.dropped(subject)
			}
		}
	}
}

func (b *RedisBus) dropped(subject string) {
	b.mu.RLock()
	fn := b.onDrop
	b.mu.RUnlock()
	if fn != nil {
		fn(subject)
	}
}

// Healthy pings Redis.
func (b *RedisBus) Healthy(ctx context.Context) bool {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}

// Close ends every subscription. The Redis client is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// redisPattern converts a subject pattern into a Redis glob. The conversion
// over-matches "*" segments; forward filters the exact semantics.
func redisPattern(pattern string) string {
	if pattern == ">" {
		return "*"
	}
	pattern = strings.TrimSuffix(pattern, ">")
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	if strings.HasSuffix(sb.String(), ".") {
		sb.WriteByte('*')
	}
	return sb.String()
}
