package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kambafy/internal/model"
	"kambafy/internal/store"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("seller1")
	other := b.Subscribe("seller2")

	evt := FeedEvent{Type: feedEventDelivery, Attempt: model.DeliveryAttempt{ID: "a1", OwnerID: "seller1"}}
	b.Publish("seller1", evt)

	select {
	case got := <-ch:
		assert.Equal(t, evt, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("other owner received %+v", got)
	default:
	}

	b.Unsubscribe("seller1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	b.Unsubscribe("seller1", ch)
	b.Publish("seller1", evt)
}

type failingLog struct{}

func (failingLog) AppendDeliveryAttempt(context.Context, model.DeliveryAttempt) error {
	return errors.New("disk full")
}

func TestFeedSinkPublishesAfterAppend(t *testing.T) {
	m := store.NewMemory()
	b := NewBroker()
	ch := b.Subscribe("seller1")
	defer b.Unsubscribe("seller1", ch)

	sink := feedSink{log: m, broker: b}
	require.NoError(t, sink.AppendDeliveryAttempt(context.Background(), model.DeliveryAttempt{ID: "a1", OwnerID: "seller1", EventName: "order.paid"}))
	got := <-ch
	assert.Equal(t, "a1", got.Attempt.ID)

	rows, _, err := m.ListDeliveryAttempts(context.Background(), "seller1", model.DeliveryFilter{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	sink = feedSink{log: failingLog{}, broker: b}
	assert.Error(t, sink.AppendDeliveryAttempt(context.Background(), model.DeliveryAttempt{ID: "a2", OwnerID: "seller1"}))
	select {
	case evt := <-ch:
		t.Fatalf("unexpected feed event %+v", evt)
	default:
	}
}
