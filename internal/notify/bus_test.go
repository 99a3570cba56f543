package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ry-ht/cortex/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func event(eventType types.EventType, msg string) types.Event {
	return types.Event{
		Type:      eventType,
		Severity:  types.SeverityInfo,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
}

func TestSubscribeAndNotify(t *testing.T) {
	bus := NewBus(DefaultConfig())
	defer bus.Close()

	ch := bus.Subscribe("sub-1")
	bus.Notify(event(types.EventCodeChanged, "hello"))

	select {
	case ev := <-ch:
		assert.Equal(t, types.EventCodeChanged, ev.Type)
		assert.Equal(t, "hello", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	bus := NewBus(Config{SubscriberBuffer: 2, HistorySize: 16})
	defer bus.Close()

	// A subscriber that never reads must not stall the publisher.
	bus.Subscribe("slow")
	fast := bus.Subscribe("fast")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Notify(event(types.EventParseComplete, "e"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The slow subscriber accumulated drops; the fast one still got its
	// buffered share.
	stats := bus.Stats()
	assert.Equal(t, uint64(100), stats.Published)
	assert.Equal(t, uint64(98), stats.Dropped["slow"])

	received := 0
	for {
		select {
		case <-fast:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 2, received) // buffer capacity; the rest dropped
}

func TestHistoryFiltering(t *testing.T) {
	bus := NewBus(Config{SubscriberBuffer: 4, HistorySize: 8})
	defer bus.Close()

	bus.Notify(event(types.EventCodeChanged, "a"))
	bus.Notify(event(types.EventParseComplete, "b"))
	critical := event(types.EventSecurityAlert, "c")
	critical.Severity = types.SeverityCritical
	bus.Notify(critical)

	all := bus.History(HistoryFilter{})
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "c", all[0].Message)

	onlyParse := bus.History(HistoryFilter{Types: []types.EventType{types.EventParseComplete}})
	require.Len(t, onlyParse, 1)
	assert.Equal(t, "b", onlyParse[0].Message)

	onlyCritical := bus.History(HistoryFilter{Severity: types.SeverityCritical})
	require.Len(t, onlyCritical, 1)
	assert.Equal(t, "c", onlyCritical[0].Message)

	limited := bus.History(HistoryFilter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestHistoryRingWraps(t *testing.T) {
	bus := NewBus(Config{SubscriberBuffer: 1, HistorySize: 4})
	defer bus.Close()

	for i := 0; i < 10; i++ {
		bus.Notify(event(types.EventCodeChanged, string(rune('0'+i))))
	}

	got := bus.History(HistoryFilter{})
	require.Len(t, got, 4)
	assert.Equal(t, "9", got[0].Message)
	assert.Equal(t, "6", got[3].Message)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(DefaultConfig())
	defer bus.Close()

	ch := bus.Subscribe("s")
	bus.Unsubscribe("s")

	_, open := <-ch
	assert.False(t, open)
}

func TestNotifyAfterClose(t *testing.T) {
	bus := NewBus(DefaultConfig())
	ch := bus.Subscribe("s")
	bus.Close()

	// Must not panic and must not deliver.
	bus.Notify(event(types.EventCodeChanged, "late"))
	_, open := <-ch
	assert.False(t, open)
}
