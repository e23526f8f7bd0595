// Package progress fans run events out to interested subscribers.
package progress

import "sync"

// Event is one progress notification on a topic.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types published during a run.
const (
	EventObjectStarted  = "object-started"
	EventObjectStaged   = "object-staged"
	EventObjectFinished = "object-finished"
	EventDiffProgress   = "diff-progress"
	EventRunFinished    = "run-finished"
)

// Broadcaster is a registry of subscribers keyed by topic (run or schedule
// id). Publishing never blocks: a subscriber that cannot keep up loses
// events rather than stalling the run.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]map[int]chan Event
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{topics: map[string]map[int]chan Event{}}
}

// Subscribe registers a buffered subscriber on the topic. The returned
// cancel function removes the subscription and closes the channel; it is
// safe to call more than once.
func (b *Broadcaster) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = map[int]chan Event{}
		b.topics[topic] = subs
	}
	id := b.nextID
	b.nextID++
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.topics[topic]; ok {
				if _, live := subs[id]; live {
					delete(subs, id)
					close(ch)
				}
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber of the topic,
// dropping it for subscribers whose buffer is full.
func (b *Broadcaster) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Finish publishes a terminal event and closes every subscription on the
// topic.
func (b *Broadcaster) Finish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
	delete(b.topics, topic)
}

// SubscriberCount returns the number of live subscribers on the topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
