package web

import (
	"sync"

	"compass-ng/internal/heading"
)

// Message is what stream subscribers receive. Exactly one of Update and
// Cardinal is set.
type Message struct {
	Type     string                 `json:"type"`
	Update   *heading.HeadingUpdate `json:"update,omitempty"`
	Cardinal *heading.CardinalEvent `json:"cardinal,omitempty"`
}

// HeadingBroadcaster fans processor events out to stream clients. It keeps
// the latest update so a new subscriber can draw immediately.
type HeadingBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Message
	nextID   int
	last     heading.HeadingUpdate
	haveLast bool
}

func NewHeadingBroadcaster() *HeadingBroadcaster {
	return &HeadingBroadcaster{subs: make(map[int]chan Message)}
}

func (b *HeadingBroadcaster) Subscribe(buffer int) (int, <-chan Message) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		u := b.last
		ch <- Message{Type: "heading", Update: &u}
	}
	b.mu.Unlock()
	return id, ch
}

func (b *HeadingBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Latest returns the most recent update, if any.
func (b *HeadingBroadcaster) Latest() (heading.HeadingUpdate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

func (b *HeadingBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *HeadingBroadcaster) OnHeadingUpdate(u heading.HeadingUpdate) {
	b.mu.Lock()
	b.last = u
	b.haveLast = true
	b.mu.Unlock()
	b.publish(Message{Type: "heading", Update: &u})
}

func (b *HeadingBroadcaster) OnCardinalAligned(e heading.CardinalEvent) {
	b.publish(Message{Type: "cardinal", Cardinal: &e})
}

// publish never blocks; slow subscribers miss messages.
func (b *HeadingBroadcaster) publish(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}
