// Package eventbus is a process-local publish/subscribe fan-out,
// re-architected from chainlink's pg.EventBroadcaster/pg.Subscription
// pair (see eth_broadcaster.go's use of eventBroadcaster.Subscribe) into
// an explicit, constructor-injected handle with no ambient singleton, per
// the Design Note in spec.md §9.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
)

// Event is the payload delivered to subscribers (spec.md §4.3).
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber receives events on Ch until Ch is closed, or until the bus
// evicts it for being slow/unresponsive to a heartbeat.
type Subscriber struct {
	ID       string
	Ch       chan Event
	lastPong atomic.Time
}

// Bus fans events out to many subscribers per topic. Delivery is
// best-effort: a full subscriber channel is dropped rather than blocking
// the publisher, mirroring "Delivery is best-effort" in spec.md §4.3.
type Bus struct {
	lggr logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber   // id -> subscriber
	topics      map[string]map[string]struct{} // topic -> set of subscriber ids

	chStop chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Bus. Call Start to begin the heartbeat loop and Close
// to stop it and release all subscribers.
func New(lggr logger.Logger) *Bus {
	return &Bus{
		lggr:        lggr.Named("EventBus"),
		subscribers: make(map[string]*Subscriber),
		topics:      make(map[string]map[string]struct{}),
		chStop:      make(chan struct{}),
	}
}

// Start launches the heartbeat loop (spec.md §4.3: ping every 30s).
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.heartbeatLoop()
}

// Close stops the heartbeat loop and closes every subscriber channel.
func (b *Bus) Close() {
	close(b.chStop)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
	b.topics = make(map[string]map[string]struct{})
}

// NewSubscriber registers a new subscriber with a buffered channel and
// returns its handle. The caller is responsible for draining Ch.
func (b *Bus) NewSubscriber(bufSize int) *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		Ch: make(chan Event, bufSize),
	}
	sub.lastPong.Store(time.Now())

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Subscribe opts subscriber id into topic. Safe to call concurrently with
// Publish/Unsubscribe/heartbeat eviction.
func (b *Bus) Subscribe(subscriberID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[subscriberID]; !ok {
		return
	}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[string]struct{})
		b.topics[topic] = set
	}
	set[subscriberID] = struct{}{}
}

// Unsubscribe removes subscriber id from topic.
func (b *Bus) Unsubscribe(subscriberID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.topics[topic]; ok {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Remove fully evicts a subscriber: closes its channel and removes it
// from every topic it had joined.
func (b *Bus) Remove(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[subscriberID]
	if !ok {
		return
	}
	delete(b.subscribers, subscriberID)
	for topic, set := range b.topics {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.topics, topic)
		}
	}
	close(sub.Ch)
}

// Pong records a liveness response from subscriberID so the heartbeat
// loop doesn't evict it.
func (b *Bus) Pong(subscriberID string) {
	b.mu.RLock()
	sub, ok := b.subscribers[subscriberID]
	b.mu.RUnlock()
	if ok {
		sub.lastPong.Store(time.Now())
	}
}

// Publish delivers event to every subscriber of topic. Slow or full
// subscribers are dropped for this event only, unless they are also past
// the heartbeat deadline in which case the next heartbeat tick evicts
// them.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.topics[topic]
	if !ok {
		return
	}
	for id := range set {
		sub, ok := b.subscribers[id]
		if !ok {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			b.lggr.Debugw("dropping event for slow subscriber", "subscriberID", id, "topic", topic)
		}
	}
}

// PublishTransferTransition is the convenience path the Executor/Store
// use: it publishes both to the global topic for this event type and to
// the transfer's own per-id topic, matching spec.md §4.3's two topic
// conventions.
func (b *Bus) PublishTransferTransition(globalTopic, transferTopic, eventType string, data interface{}) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now()}
	b.Publish(globalTopic, event)
	b.Publish(transferTopic, event)
}

func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.chStop:
			return
		case <-ticker.C:
			b.evictStale()
		}
	}
}

func (b *Bus) evictStale() {
	deadline := time.Now().Add(-2 * config.HeartbeatInterval)

	b.mu.RLock()
	var stale []string
	for id, sub := range b.subscribers {
		if sub.lastPong.Load().Before(deadline) {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		b.lggr.Debugw("evicting unresponsive subscriber", "subscriberID", id)
		b.Remove(id)
	}
}
