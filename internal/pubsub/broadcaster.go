// Package pubsub fans committed indexer events out to live subscribers.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Message is one committed event.
type Message struct {
	EventID     string         `json:"eventId"`
	Campaign    string         `json:"campaign"`
	BlockNumber uint64         `json:"blockNumber"`
	BlockTime   uint64         `json:"blockTime"`
	TxHash      string         `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	Data        map[string]any `json:"data"`
}

// Subscription receives messages on C until it is unsubscribed.
type Subscription struct {
	ID string
	C  <-chan Message

	ch       chan Message
	campaign string
	dropped  atomic.Uint64
}

// Dropped returns how many messages were discarded because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Broadcaster delivers every published message to every matching
// subscriber. Publish never blocks: a full subscriber misses the message.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster with DefaultBuffer.
func NewBroadcaster() *Broadcaster {
	return NewBroadcasterWithBuffer(DefaultBuffer)
}

// NewBroadcasterWithBuffer creates a broadcaster whose subscriber channels
// hold buffer messages.
func NewBroadcasterWithBuffer(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. A non-empty campaign keeps only that
// campaign's messages. On a closed broadcaster the channel is already
// closed.
func (b *Broadcaster) Subscribe(campaign string) *Subscription {
	ch := make(chan Message, b.buffer)
	sub := &Subscription{
		ID:       uuid.NewString(),
		C:        ch,
		ch:       ch,
		campaign: campaign,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.ch)
}

// Publish delivers msg to every matching subscriber.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.campaign != "" && sub.campaign != msg.Campaign {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			if sub.dropped.Add(1) == 1 {
				log.Warn().Str("subscriber", sub.ID).Msg("slow subscriber, dropping messages")
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
