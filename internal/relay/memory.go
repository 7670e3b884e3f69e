package relay

import "sync"

// InProcessRelay is the single-process deployment mode: fanout stays
// inside one server. Same at-least-once contract as the NATS relay.
type InProcessRelay struct {
	mu       sync.RWMutex
	channels map[string]map[*inProcessSubscription]bool
	closed   bool
}

func NewInProcessRelay() *InProcessRelay {
	return &InProcessRelay{
		channels: make(map[string]map[*inProcessSubscription]bool),
	}
}

func (r *InProcessRelay) Publish(channel string, payload []byte) error {
	r.mu.RLock()
	subs := make([]*inProcessSubscription, 0, len(r.channels[channel]))
	for sub := range r.channels[channel] {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	// Handlers run outside the lock so a subscriber may unsubscribe
	// from within its own handler.
	for _, sub := range subs {
		sub.handler(payload)
	}
	return nil
}

func (r *InProcessRelay) Subscribe(channel string, handler Handler) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &inProcessSubscription{relay: r, channel: channel, handler: handler}
	if r.channels[channel] == nil {
		r.channels[channel] = make(map[*inProcessSubscription]bool)
	}
	r.channels[channel][sub] = true
	return sub, nil
}

func (r *InProcessRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[string]map[*inProcessSubscription]bool)
	r.closed = true
}

type inProcessSubscription struct {
	relay   *InProcessRelay
	channel string
	handler Handler
}

func (s *inProcessSubscription) Unsubscribe() error {
	s.relay.mu.Lock()
	defer s.relay.mu.Unlock()

	if subs, ok := s.relay.channels[s.channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.relay.channels, s.channel)
		}
	}
	return nil
}
