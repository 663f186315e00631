package datastore

import "sync"

// Topic names a table whose changes can be observed.
type Topic string

const (
	TopicLocks      Topic = "locks"
	TopicViolations Topic = "violations"
	TopicWhitelist  Topic = "whitelist"
)

// broker fans change notifications out to subscribers. Each subscriber has a
// one-slot channel, so bursts coalesce into a single wake-up and a slow
// subscriber never blocks a writer.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]chan struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[Topic]map[int]chan struct{})}
}

func (b *broker) subscribe(t Topic) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan struct{}, 1)
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]chan struct{})
	}
	b.subs[t][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[t], id)
			close(ch)
		})
	}
}

func (b *broker) publish(topics ...Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range topics {
		for _, ch := range b.subs[t] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}
