// Package bus is the node's in-process topic fan-out. It keeps the latest
// message per topic and pushes each publish to matching subscribers.
package bus

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Message is one published value.
type Message struct {
	Topic string    `json:"topic"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
	Value any       `json:"value"`
}

// Subscriber receives messages for its topics, or every topic when it has none.
type Subscriber struct {
	topics map[string]struct{}
	ch     chan Message
	bus    *Bus
	once   sync.Once
}

func (s *Subscriber) C() <-chan Message {
	return s.ch
}

func (s *Subscriber) Close() {
	s.once.Do(func() { s.bus.unsubscribe(s) })
}

type Bus struct {
	mu     sync.RWMutex
	latest map[string]Message
	seq    map[string]uint64
	topics map[string]map[*Subscriber]struct{}
	global map[*Subscriber]struct{}
	closed bool
}

func New() *Bus {
	return &Bus{
		latest: make(map[string]Message),
		seq:    make(map[string]uint64),
		topics: make(map[string]map[*Subscriber]struct{}),
		global: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber with a buffer of size messages.
func (b *Bus) Subscribe(size int, topics ...string) *Subscriber {
	if size <= 0 {
		size = 16
	}
	sub := &Subscriber{
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, size),
		bus:    b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	if len(topics) == 0 {
		b.global[sub] = struct{}{}
		return sub
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
		if _, ok := b.topics[t]; !ok {
			b.topics[t] = make(map[*Subscriber]struct{})
		}
		b.topics[t][sub] = struct{}{}
	}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(sub.topics) == 0 {
		delete(b.global, sub)
	}
	for t := range sub.topics {
		if subs, ok := b.topics[t]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, t)
			}
		}
	}
	close(sub.ch)
}

// Publish records value as the latest on topic and fans it out. Slow
// subscribers miss messages instead of blocking the publisher.
func (b *Bus) Publish(topic string, value any) Message {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Message{}
	}
	b.seq[topic]++
	msg := Message{Topic: topic, Seq: b.seq[topic], At: time.Now(), Value: value}
	b.latest[topic] = msg
	b.mu.Unlock()

	// Sending under RLock keeps unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.global {
		b.deliver(sub, msg)
	}
	for sub := range b.topics[topic] {
		b.deliver(sub, msg)
	}
	return msg
}

func (b *Bus) deliver(sub *Subscriber, msg Message) {
	select {
	case sub.ch <- msg:
	default:
		log.Debug().Str("topic", msg.Topic).Uint64("seq", msg.Seq).Msg("bus.Publish subscriber full")
	}
}

func (b *Bus) Latest(topic string) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.latest[topic]
	return msg, ok
}

// Forget drops the latest message on topic so it is no longer served as
// current. Subscribers stay registered and sequence numbers keep counting.
func (b *Bus) Forget(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, topic)
}

// Topics lists every topic with a current message.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.latest))
	for t := range b.latest {
		out = append(out, t)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close ends every subscription; later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	// A subscriber on several topics appears in several sets.
	all := make(map[*Subscriber]struct{}, len(b.global))
	for sub := range b.global {
		all[sub] = struct{}{}
	}
	for _, subs := range b.topics {
		for sub := range subs {
			all[sub] = struct{}{}
		}
	}
	for sub := range all {
		close(sub.ch)
	}
	b.global = nil
	b.topics = nil
}
