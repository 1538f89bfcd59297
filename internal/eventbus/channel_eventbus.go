package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscription represents a registered event handler
type subscription struct {
	id         string
	eventTypes map[EventType]bool // empty means all events
	handler    EventHandler
}

// ChannelEventBus is an EventBus implementation backed by a buffered
// channel and a fixed pool of dispatch workers.
type ChannelEventBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[EventType][]*subscription
	allSubs       []*subscription

	events chan eventEnvelope
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool

	handlerTimeout time.Duration
}

// eventEnvelope pairs an event with the context it was published under.
type eventEnvelope struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures a ChannelEventBus.
type ChannelEventBusOption func(*channelEventBusConfig)

type channelEventBusConfig struct {
	bufferSize     int
	workerCount    int
	handlerTimeout time.Duration
}

// WithBufferSize sets the size of the internal event channel.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(cfg *channelEventBusConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(cfg *channelEventBusConfig) {
		if count > 0 {
			cfg.workerCount = count
		}
	}
}

// WithHandlerTimeout bounds how long a single handler may run.
func WithHandlerTimeout(d time.Duration) ChannelEventBusOption {
	return func(cfg *channelEventBusConfig) {
		if d > 0 {
			cfg.handlerTimeout = d
		}
	}
}

// NewChannelEventBus creates a new channel-based event bus and starts
// its worker pool.
func NewChannelEventBus(opts ...ChannelEventBusOption) *ChannelEventBus {
	cfg := &channelEventBusConfig{
		bufferSize:     64,
		workerCount:    2,
		handlerTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	bus := &ChannelEventBus{
		subscriptions:  make(map[string]*subscription),
		byType:         make(map[EventType][]*subscription),
		events:         make(chan eventEnvelope, cfg.bufferSize),
		done:           make(chan struct{}),
		handlerTimeout: cfg.handlerTimeout,
	}

	bus.wg.Add(cfg.workerCount)
	for i := 0; i < cfg.workerCount; i++ {
		go bus.worker()
	}

	return bus
}

// worker drains the event channel and dispatches to handlers until the
// bus is closed.
func (b *ChannelEventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case env, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(env)
		case <-b.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case env, ok := <-b.events:
					if !ok {
						return
					}
					b.dispatch(env)
				default:
					return
				}
			}
		}
	}
}

// dispatch delivers an event to every matching subscription. Handler
// errors are logged, never propagated: events are advisory telemetry
// and must not affect pipeline execution.
func (b *ChannelEventBus) dispatch(env eventEnvelope) {
	b.mu.RLock()
	handlers := make([]*subscription, 0, len(b.allSubs)+len(b.byType[env.event.Type()]))
	handlers = append(handlers, b.allSubs...)
	handlers = append(handlers, b.byType[env.event.Type()]...)
	b.mu.RUnlock()

	for _, sub := range handlers {
		ctx, cancel := context.WithTimeout(env.ctx, b.handlerTimeout)
		if err := sub.handler(ctx, env.event); err != nil {
			log.Printf("EventBus: handler %s failed for event %s: %v", sub.id, env.event.Type(), err)
		}
		cancel()
	}
}

// Publish sends an event to all subscribed handlers. Delivery is
// asynchronous; Publish returns an error only if the bus is closed or
// the caller's context is done while the event channel is full.
func (b *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case b.events <- eventEnvelope{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish event %s: %w", event.Type(), ctx.Err())
	case <-b.done:
		return fmt.Errorf("event bus is closed")
	}
}

// Subscribe registers a handler for the given event types.
func (b *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler must not be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	sub := &subscription{
		id:         uuid.NewString(),
		eventTypes: make(map[EventType]bool, len(eventTypes)),
		handler:    handler,
	}
	for _, t := range eventTypes {
		sub.eventTypes[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}
	b.subscriptions[sub.id] = sub
	for t := range sub.eventTypes {
		b.byType[t] = append(b.byType[t], sub)
	}
	return sub.id, nil
}

// SubscribeAll registers a handler that receives every event.
func (b *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler must not be nil")
	}

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}
	b.subscriptions[sub.id] = sub
	b.allSubs = append(b.allSubs, sub)
	return sub.id, nil
}

// Unsubscribe removes a subscription by ID.
func (b *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s not found", subscriptionID)
	}
	delete(b.subscriptions, subscriptionID)

	if len(sub.eventTypes) == 0 {
		b.allSubs = removeSub(b.allSubs, subscriptionID)
		return nil
	}
	for t := range sub.eventTypes {
		b.byType[t] = removeSub(b.byType[t], subscriptionID)
		if len(b.byType[t]) == 0 {
			delete(b.byType, t)
		}
	}
	return nil
}

func removeSub(subs []*subscription, id string) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close shuts down the event bus and waits for workers to finish
// processing queued events.
func (b *ChannelEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	b.subscriptions = make(map[string]*subscription)
	b.byType = make(map[EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()
	return nil
}
