package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(structure string, kind Kind, id int64) Event {
	return Event{Structure: structure, Kind: kind, RecordID: id, Timestamp: time.Now().UTC()}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	n := New(8)
	defer n.Close()

	sub := n.Subscribe("menu")
	defer sub.Close()

	n.Publish(ev("menu", KindCreated, 1))
	n.Publish(ev("menu", KindUpdated, 1))
	n.Publish(ev("menu", KindDeleted, 1))

	for _, want := range []Kind{KindCreated, KindUpdated, KindDeleted} {
		got := <-sub.Events()
		assert.Equal(t, want, got.Kind)
		assert.Equal(t, int64(1), got.RecordID)
	}
}

func TestPublish_StructureIsolation(t *testing.T) {
	n := New(8)
	defer n.Close()

	menuSub := n.Subscribe("menu")
	defer menuSub.Close()
	articleSub := n.Subscribe("article")
	defer articleSub.Close()

	n.Publish(ev("menu", KindCreated, 1))

	got := <-menuSub.Events()
	assert.Equal(t, "menu", got.Structure)

	select {
	case unexpected := <-articleSub.Events():
		t.Fatalf("article subscriber received %+v", unexpected)
	default:
	}
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	n := New(2)
	defer n.Close()

	sub := n.Subscribe("menu")
	defer sub.Close()

	n.Publish(ev("menu", KindCreated, 1))
	n.Publish(ev("menu", KindCreated, 2))
	n.Publish(ev("menu", KindCreated, 3)) // evicts 1

	first := <-sub.Events()
	second := <-sub.Events()
	require.Equal(t, int64(2), first.RecordID, "oldest event must be dropped")
	require.Equal(t, int64(3), second.RecordID)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestSubscribe_LateSubscriberSeesNothing(t *testing.T) {
	n := New(8)
	defer n.Close()

	n.Publish(ev("menu", KindCreated, 1))

	sub := n.Subscribe("menu")
	defer sub.Close()

	select {
	case got := <-sub.Events():
		t.Fatalf("late subscriber received %+v", got)
	default:
	}
}

func TestSubscription_Close(t *testing.T) {
	n := New(8)
	defer n.Close()

	sub := n.Subscribe("menu")
	sub.Close()
	sub.Close() // safe to repeat

	_, open := <-sub.Events()
	assert.False(t, open, "channel must be closed")

	// Publishing after the subscriber left must not panic.
	n.Publish(ev("menu", KindCreated, 1))
}

func TestNotifier_Close(t *testing.T) {
	n := New(8)
	sub := n.Subscribe("menu")

	n.Close()
	n.Close() // safe to repeat

	_, open := <-sub.Events()
	assert.False(t, open, "channel must be closed")

	n.Publish(ev("menu", KindCreated, 1)) // discarded

	late := n.Subscribe("menu")
	_, open = <-late.Events()
	assert.False(t, open, "subscriptions on a closed notifier are pre-terminated")

	sub.Close() // closing after notifier shutdown is a no-op
}
