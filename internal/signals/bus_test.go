package signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-notetaking-client/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(logger.NewNopLogger())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishIsDeliveredBeforeReturn(t *testing.T) {
	bus := newTestBus(t)

	var got []UpgradeRequired
	unsubscribe, err := Subscribe(bus, UpgradeRequiredTopic, func(s UpgradeRequired) {
		got = append(got, s)
	})
	require.NoError(t, err)
	defer unsubscribe()

	resetsAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	err = Publish(context.Background(), bus, UpgradeRequiredTopic, UpgradeRequired{
		FeatureName: "notebooks",
		Used:        3,
		Limit:       3,
		ResetsAt:    &resetsAt,
		Origin:      OriginUsageGuard,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "notebooks", got[0].FeatureName)
	assert.Equal(t, 3, got[0].Used)
	assert.Equal(t, 3, got[0].Limit)
	require.NotNil(t, got[0].ResetsAt)
	assert.True(t, resetsAt.Equal(*got[0].ResetsAt))
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := newTestBus(t)

	var expired int
	unsubscribe, err := Subscribe(bus, SessionExpiredTopic, func(SessionExpired) { expired++ })
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, Publish(context.Background(), bus, OpenNotificationPanelTopic, OpenNotificationPanel{}))
	assert.Equal(t, 0, expired)

	require.NoError(t, Publish(context.Background(), bus, SessionExpiredTopic, SessionExpired{Reason: "refresh failed"}))
	assert.Equal(t, 1, expired)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	count := 0
	unsubscribe, err := Subscribe(bus, RealtimeUnavailableTopic, func(RealtimeUnavailable) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, Publish(context.Background(), bus, RealtimeUnavailableTopic, RealtimeUnavailable{Attempts: 10}))
	unsubscribe()
	require.NoError(t, Publish(context.Background(), bus, RealtimeUnavailableTopic, RealtimeUnavailable{Attempts: 10}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := newTestBus(t)

	assert.NoError(t, Publish(context.Background(), bus, UpgradeRequiredTopic, UpgradeRequired{StatusCode: 403}))
}

func TestHandlerPanicDoesNotBreakBus(t *testing.T) {
	bus := newTestBus(t)

	calls := 0
	unsubscribe, err := Subscribe(bus, OpenNotificationPanelTopic, func(OpenNotificationPanel) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, Publish(context.Background(), bus, OpenNotificationPanelTopic, OpenNotificationPanel{}))
	require.NoError(t, Publish(context.Background(), bus, OpenNotificationPanelTopic, OpenNotificationPanel{}))
	assert.Equal(t, 2, calls)
}
