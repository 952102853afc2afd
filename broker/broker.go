// Package broker provides the typed publish/subscribe bus the coordinator
// emits its domain events on. Delivery is synchronous: Publish invokes every
// subscriber on the calling goroutine, so observers always see state that was
// committed before the emission.
package broker

import (
	"sync"
)

// Topic identifies one of the coordinator's event streams.
type Topic int

// Topics published by the coordinator.
const (
	StateChanged Topic = iota
	ParticipantsChanged
	CallsChanged
	UserMediaFeedsChanged
	ScreenshareFeedsChanged
	ActiveSpeakerChanged
	LocalMuteStateChanged
	LocalScreenshareStateChanged
	CallError
)

// Broker routes published events to subscribers per topic.
type Broker struct {
	mu   sync.RWMutex
	subs map[Topic][]*Subscription
}

// New creates a new Broker.
func New() *Broker {
	return &Broker{
		subs: make(map[Topic][]*Subscription),
	}
}

// Subscribe registers fn for topic and returns the subscription handle used
// to unsubscribe.
func (b *Broker) Subscribe(topic Topic, fn func(event any)) *Subscription {
	sub := &Subscription{topic: topic, fn: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Unsubscribe removes a subscription. Removing an already-removed
// subscription is a no-op.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of topic, in subscription
// order, on the calling goroutine.
func (b *Broker) Publish(topic Topic, event any) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
}
