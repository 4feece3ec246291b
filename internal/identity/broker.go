package identity

import "sync"

// Broker fans session events out to the subscribers of each device.
type Broker struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]func(Event)
}

// NewBroker returns a broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]func(Event))}
}

// Subscribe registers handler for events of deviceID. The returned function
// removes it and is safe to call more than once.
func (b *Broker) Subscribe(deviceID string, handler func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	if b.subs[deviceID] == nil {
		b.subs[deviceID] = make(map[uint64]func(Event))
	}
	b.subs[deviceID][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[deviceID], id)
			if len(b.subs[deviceID]) == 0 {
				delete(b.subs, deviceID)
			}
		})
	}
}

// Publish delivers ev to the current subscribers of ev.DeviceID. Handlers run
// on the caller's goroutine, outside the broker lock.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[ev.DeviceID]))
	for _, h := range b.subs[ev.DeviceID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers reports how many handlers are registered for deviceID.
func (b *Broker) Subscribers(deviceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[deviceID])
}
