package cache

import (
	"slices"
	"sync"
)

type subscriberRegistry struct {
	mu          sync.Mutex
	nextID      uint64
	order       []uint64
	subscribers map[uint64]Subscriber
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{
		subscribers: make(map[uint64]Subscriber),
	}
}

func (r *subscriberRegistry) add(subscriber Subscriber) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subscribers[id] = subscriber
	r.order = append(r.order, id)

	return func() {
		r.remove(id)
	}
}

func (r *subscriberRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscribers[id]; !ok {
		return
	}
	delete(r.subscribers, id)
	r.order = slices.DeleteFunc(r.order, func(other uint64) bool {
		return other == id
	})
}

func (r *subscriberRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// snapshot returns the current subscribers in registration order.
func (r *subscriberRegistry) snapshot() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		subscribers = append(subscribers, r.subscribers[id])
	}
	return subscribers
}

// notify delivers events in order. The subscriber list is read once per event,
// so a subscriber removed by an earlier callback is not called for later events.
func (r *subscriberRegistry) notify(events []Event) {
	for _, event := range events {
		for _, subscriber := range r.snapshot() {
			subscriber(event)
		}
	}
}
