// eventBus
package apocalypse

import (
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Topics published on the hell event bus.
const (
	TopicIgnition   = "hell.ignition"
	TopicExtinguish = "hell.extinguish"
	TopicDeadLetter = "hell.deadletter"
	TopicSpawn      = "demon.spawn"
	TopicVanquish   = "demon.vanquish"
	TopicKillswitch = "demon.killswitch"
	TopicZombie     = "demon.zombie"
)

// BusEvent is one lifecycle notification. Payload is only set for
// dead-letter events, where it carries the input that was dropped.
type BusEvent struct {
	ID      uuid.UUID
	Topic   string
	At      time.Time
	Address Address
	Detail  string
	Payload any
}

// internal book-keeping
type busSubscriber struct {
	ch chan<- BusEvent
	rx *regexp.Regexp
}

// EventBus fans lifecycle events out to subscriber channels. Delivery is
// best effort: a subscriber whose channel is full misses the event, so the
// publishing side (hell's loop, demon tasks) is never stalled by a slow
// listener. Size subscriber channels generously when every event matters.
type EventBus struct {
	mu          sync.Mutex
	closed      atomic.Bool
	subscribers []busSubscriber
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make([]busSubscriber, 0)}
}

// Subscribe delivers every event whose topic matches pattern (a regular
// expression; empty matches everything) to ch.
func (bus *EventBus) Subscribe(pattern string, ch chan<- BusEvent) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, subs := range bus.subscribers {
		if subs.ch == ch {
			return nil
		}
	}
	var rx *regexp.Regexp
	if pattern != "" {
		var err error
		rx, err = regexp.Compile(pattern)
		if err != nil {
			return err
		}
	}
	bus.subscribers = append(bus.subscribers, busSubscriber{ch, rx})
	return nil
}

// Unsubscribe removes ch from the bus. The channel is never closed by the
// bus; the caller owns it.
func (bus *EventBus) Unsubscribe(ch chan<- BusEvent) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for idx, subs := range bus.subscribers {
		if subs.ch == ch {
			bus.subscribers = append(bus.subscribers[:idx], bus.subscribers[idx+1:]...)
			return
		}
	}
}

// Publish stamps the event and offers it to every matching subscriber.
func (bus *EventBus) Publish(topic string, ev BusEvent) {
	if bus == nil || bus.closed.Load() {
		return
	}
	ev.ID = uuid.New()
	ev.Topic = topic
	ev.At = time.Now()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, subs := range bus.subscribers {
		if subs.rx != nil && !subs.rx.MatchString(topic) {
			continue
		}
		select {
		case subs.ch <- ev:
		default:
		}
	}
}

// Close stops delivery. Subscribed channels stay open and simply go quiet.
func (bus *EventBus) Close() {
	if bus == nil {
		return
	}
	bus.closed.Store(true)
}
