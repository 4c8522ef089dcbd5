package api

import (
	"context"
	"sync"

	"kambafy/internal/model"
	"kambafy/internal/webhooks"
)

// FeedEvent is one entry of an owner's live delivery feed.
type FeedEvent struct {
	Type    string                `json:"type"`
	Attempt model.DeliveryAttempt `json:"attempt"`
}

const feedEventDelivery = "delivery.attempt"

// EventBroker fans feed events out to subscribers of one owner.
type EventBroker interface {
	Subscribe(ownerID string) chan FeedEvent
	Unsubscribe(ownerID string, ch chan FeedEvent)
	Publish(ownerID string, evt FeedEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan FeedEvent]struct{} // ownerId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan FeedEvent]struct{}{}}
}

func (b *Broker) Subscribe(ownerID string) chan FeedEvent {
	ch := make(chan FeedEvent, 16)
	b.mu.Lock()
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = map[chan FeedEvent]struct{}{}
	}
	b.subs[ownerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ownerID string, ch chan FeedEvent) {
	b.mu.Lock()
	m := b.subs[ownerID]
	_, ok := m[ch]
	if ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, ownerID)
		}
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Broker) Publish(ownerID string, evt FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ownerID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// feedSink appends to the delivery log and then announces the row on the feed.
type feedSink struct {
	log    webhooks.LogSink
	broker EventBroker
}

func (f feedSink) AppendDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	if err := f.log.AppendDeliveryAttempt(ctx, a); err != nil {
		return err
	}
	if f.broker != nil {
		f.broker.Publish(a.OwnerID, FeedEvent{Type: feedEventDelivery, Attempt: a})
	}
	return nil
}
