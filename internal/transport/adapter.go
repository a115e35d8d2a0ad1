// Package transport wraps Redis pub/sub as the realtime fan-out
// primitive. An Adapter owns a registry of channel handles; repeated
// Channel(name) calls return the same handle so subscriptions are never
// attached twice. Publishes stamp every payload with a server timestamp
// and a unique message id, which is what lets clients treat delivery as
// at-least-once with idempotent handling.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fixwork_backend/internal/logger"
)

// Publisher is the transport surface the services depend on. *Adapter
// implements it; tests substitute a counting mock.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, data any) error
}

// Handler consumes one decoded envelope.
type Handler func(env Envelope)

// Envelope is the wire format for every published event.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	MessageID string          `json:"messageId"`
	Timestamp string          `json:"timestamp"`
}

// Adapter is the process-wide transport handle. Safe for concurrent use.
type Adapter struct {
	rdb *redis.Client

	mu       sync.Mutex
	channels map[string]*Channel

	publishFailures atomic.Int64
}

func New(rdb *redis.Client) *Adapter {
	return &Adapter{
		rdb:      rdb,
		channels: make(map[string]*Channel),
	}
}

// Channel returns the handle for name, creating it on first use.
// Idempotent get-or-create: concurrent callers always receive the same
// handle.
func (a *Adapter) Channel(name string) *Channel {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		adapter:  a,
		name:     name,
		handlers: make(map[string]map[int]Handler),
	}
	a.channels[name] = ch
	return ch
}

// Publish wraps data in an Envelope and publishes it on the named
// channel. The caller decides whether a failure is fatal; for the
// services it never is.
func (a *Adapter) Publish(ctx context.Context, channel, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload for %s/%s: %w", channel, event, err)
	}

	env := Envelope{
		Event:     event,
		Data:      raw,
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s/%s: %w", channel, event, err)
	}

	if err := a.rdb.Publish(ctx, channel, body).Err(); err != nil {
		a.publishFailures.Add(1)
		return fmt.Errorf("publish %s/%s: %w", channel, event, err)
	}
	return nil
}

// PublishFailures returns the number of failed publishes since start.
func (a *Adapter) PublishFailures() int64 {
	return a.publishFailures.Load()
}

// Cleanup detaches every channel handle and closes their subscriptions.
// Must be called on shutdown; without it the registry grows unboundedly.
func (a *Adapter) Cleanup() {
	a.mu.Lock()
	channels := a.channels
	a.channels = make(map[string]*Channel)
	a.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}

// Channel is a named handle. Subscriptions share one Redis PubSub
// connection per channel; events are dispatched to handlers by event
// name.
type Channel struct {
	adapter *Adapter
	name    string

	mu       sync.Mutex
	pubsub   *redis.PubSub
	handlers map[string]map[int]Handler
	nextID   int
	cancel   context.CancelFunc
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Publish sends an event on this channel.
func (c *Channel) Publish(ctx context.Context, event string, data any) error {
	return c.adapter.Publish(ctx, c.name, event, data)
}

// Subscribe registers handler for event and returns an unsubscribe
// function. The underlying Redis subscription is created lazily on the
// first subscriber and torn down when the last one leaves.
func (c *Channel) Subscribe(ctx context.Context, event string, handler Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pubsub == nil {
		pubsub := c.adapter.rdb.Subscribe(ctx, c.name)
		// Wait for the subscription to be confirmed so publishes after
		// Subscribe returns are not lost.
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", c.name, err)
		}
		c.pubsub = pubsub

		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.dispatch(runCtx, pubsub.Channel())
	}

	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = handler

	return func() { c.unsubscribe(event, id) }, nil
}

func (c *Channel) unsubscribe(event string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hs, ok := c.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.handlers, event)
		}
	}
	if len(c.handlers) == 0 && c.pubsub != nil {
		c.cancel()
		_ = c.pubsub.Close()
		c.pubsub = nil
	}
}

func (c *Channel) dispatch(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.WithError(err).Warn("dropping malformed envelope", "channel", c.name)
				continue
			}
			c.mu.Lock()
			var targets []Handler
			for _, h := range c.handlers[env.Event] {
				targets = append(targets, h)
			}
			c.mu.Unlock()
			for _, h := range targets {
				h(env)
			}
		}
	}
}

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = make(map[string]map[int]Handler)
	if c.pubsub != nil {
		c.cancel()
		_ = c.pubsub.Close()
		c.pubsub = nil
	}
}
