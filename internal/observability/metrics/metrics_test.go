package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wristrelay/internal/eventbus"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func TestObserve(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.Observe(eventbus.Event{Type: eventbus.RelayAccepted, Data: eventbus.RelayEvent{App: "a"}})
	m.Observe(eventbus.Event{Type: eventbus.RelayDropped, Data: eventbus.RelayEvent{App: "a", Reason: "quiet_hours"}})
	m.Observe(eventbus.Event{Type: eventbus.RelayDropped, Data: eventbus.RelayEvent{App: "b", Reason: "quiet_hours"}})
	m.Observe(eventbus.Event{Type: eventbus.TransferQueued, Data: eventbus.TransferEvent{Queue: 3}})
	m.Observe(eventbus.Event{Type: eventbus.TransferCompleted, Data: eventbus.TransferEvent{Queue: 2, Vibrated: true}})
	m.Observe(eventbus.Event{Type: eventbus.RelayAction, Data: eventbus.ActionEvent{App: "com.chat"}})
	m.Observe(eventbus.Event{Type: "something.else"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("accepted", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped", "quiet_hours")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transfers.WithLabelValues(eventbus.TransferCompleted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Vibrations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("com.chat")))
}

func TestRunConsumesBus(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.GaugeFunc("registry_size", "Sent notifications remembered.", func() float64 { return 7 }))

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TransferStarted, Data: eventbus.TransferEvent{}})
		return testutil.ToFloat64(m.Transfers.WithLabelValues(eventbus.TransferStarted)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	n, err := testutil.GatherAndCount(m.Registry(), "wristrelay_registry_size")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
