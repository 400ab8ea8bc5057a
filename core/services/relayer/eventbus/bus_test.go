package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aionpay/relayer/core/logger"
)

func TestPublish_DeliversOnlyToSubscribedTopic(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(4)
	b.Subscribe(sub.ID, "payment_confirmed")

	b.Publish("payment_pending", Event{Type: "pending"})
	b.Publish("payment_confirmed", Event{Type: "confirmed"})

	select {
	case ev := <-sub.Ch:
		require.Equal(t, "confirmed", ev.Type)
	default:
		t.Fatal("expected a delivered event")
	}

	select {
	case ev := <-sub.Ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestPublishTransferTransition_FansOutToBothTopics(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(4)
	b.Subscribe(sub.ID, "payment_confirmed")
	b.Subscribe(sub.ID, "transfer:42")

	b.PublishTransferTransition("payment_confirmed", "transfer:42", "confirmed", map[string]int64{"id": 42})

	got := 0
	for {
		select {
		case <-sub.Ch:
			got++
		default:
			require.Equal(t, 2, got, "expected delivery on both the global and per-transfer topic")
			return
		}
	}
}

func TestPublish_DropsWhenSubscriberChannelIsFull(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(1)
	b.Subscribe(sub.ID, "topic")

	b.Publish("topic", Event{Type: "first"})
	b.Publish("topic", Event{Type: "dropped"})

	ev := <-sub.Ch
	require.Equal(t, "first", ev.Type)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(4)
	b.Subscribe(sub.ID, "topic")
	b.Unsubscribe(sub.ID, "topic")

	b.Publish("topic", Event{Type: "should not arrive"})

	select {
	case ev := <-sub.Ch:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	default:
	}
}

func TestRemove_ClosesChannelAndDropsFromAllTopics(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(4)
	b.Subscribe(sub.ID, "a")
	b.Subscribe(sub.ID, "b")

	b.Remove(sub.ID)

	_, ok := <-sub.Ch
	require.False(t, ok, "channel should be closed")

	require.Empty(t, b.topics["a"])
	require.Empty(t, b.topics["b"])
}

func TestEvictStale_RemovesSubscribersPastDeadline(t *testing.T) {
	b := New(logger.TestLogger())
	fresh := b.NewSubscriber(1)
	stale := b.NewSubscriber(1)
	stale.lastPong.Store(time.Now().Add(-time.Hour))

	b.evictStale()

	b.mu.RLock()
	_, freshStillPresent := b.subscribers[fresh.ID]
	_, staleStillPresent := b.subscribers[stale.ID]
	b.mu.RUnlock()

	require.True(t, freshStillPresent)
	require.False(t, staleStillPresent)
}

func TestPong_RefreshesLastPongAndPreventsEviction(t *testing.T) {
	b := New(logger.TestLogger())
	sub := b.NewSubscriber(1)
	sub.lastPong.Store(time.Now().Add(-time.Hour))

	b.Pong(sub.ID)
	b.evictStale()

	b.mu.RLock()
	_, present := b.subscribers[sub.ID]
	b.mu.RUnlock()
	require.True(t, present)
}
