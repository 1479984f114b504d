// Package events provides a small in-process publish/subscribe bus used to
// surface raffle lifecycle events (round opened, tickets purchased, winner
// picked, prize claimed) to interested components.
package events

import (
	"sync"
	"time"
)

// Topics published by the raffle services.
const (
	TopicRoundOpened     = "round.opened"
	TopicTicketPurchased = "ticket.purchased"
	TopicBonusAwarded    = "ticket.bonus_awarded"
	TopicWinnerPicked    = "winner.picked"
	TopicWinnerAssigned  = "winner.assigned"
	TopicPrizeClaimed    = "prize.claimed"
)

// Event is one published occurrence.
type Event struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

type subscriber struct {
	ch     chan Event
	topics map[string]struct{}
}

// Bus fans events out to subscribers. Publish never blocks: events for slow
// subscribers are dropped once their buffer fills.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber for the given topics (all topics when none
// are given) and returns the event channel plus a cancel function.
func (b *Bus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(topic string, payload map[string]any) {
	evt := Event{Topic: topic, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}
