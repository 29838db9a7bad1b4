package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	"wristrelay/internal/settings"
	"wristrelay/internal/transport"
)

func hiddenConfig() settings.Config {
	return settings.Config{HistoryEnabled: true, Apps: map[string]map[string]any{
		"com.chat": {"hide_notification_text": true},
	}}
}

func TestPrivacyCoverReplacesNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hiddenConfig())

	out := f.fwd.Process(context.Background(), chat("Ann", "", "the secret"))
	require.Equal(t, StatusHidden, out.Status)

	cur := f.machine.Current()
	require.NotNil(t, cur)
	assert.Equal(t, out.ID, cur.ID)
	assert.Equal(t, "Ann", cur.Source.Title)
	assert.Equal(t, coverSubtitle, cur.Source.Subtitle)
	assert.Equal(t, coverText, cur.Source.Text)
	require.Len(t, cur.Source.Actions, 2)
	assert.Equal(t, notification.ActionReveal, cur.Source.Actions[0].Kind)

	hidden := cur.Source.Actions[0].Hidden
	require.NotNil(t, hidden)
	assert.Equal(t, "the secret", hidden.Source.Text)
	_, registered := f.reg.Lookup(hidden.ID)
	assert.False(t, registered, "hidden original registered only on reveal")
	assert.Equal(t, 1, f.reg.Len())

	f.fwd.Close()
	require.Len(t, f.hist.entries, 1, "cover is not written to history")
	assert.Equal(t, "the secret", f.hist.entries[0].Text)
}

func TestPrivacyDisallowedSendsDirectly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hiddenConfig())
	src := chat("Ann", "", "visible")
	src.HidingTextDisallowed = true
	out := f.fwd.Process(context.Background(), src)
	assert.Equal(t, StatusDispatched, out.Status)
	assert.Equal(t, "visible", f.machine.Current().Source.Text)
}

func TestRevealAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hiddenConfig())
	out := f.fwd.Process(context.Background(), chat("Ann", "", "the secret"))
	require.Equal(t, StatusHidden, out.Status)
	hidden := f.machine.Current().Source.Actions[0].Hidden

	require.NoError(t, f.fwd.HandleAction(out.ID, 0))
	_, registered := f.reg.Lookup(hidden.ID)
	assert.True(t, registered)
	assert.Equal(t, 1, f.machine.QueueLen(), "revealed notification waits behind the cover")
}

func TestDismissAndCustomActions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hiddenConfig())
	out := f.fwd.Process(context.Background(), chat("Ann", "", "the secret"))
	require.NoError(t, f.fwd.HandleAction(out.ID, 1))
	require.Len(t, f.dismiss.dismissed, 1)
	assert.Equal(t, "com.chat", f.dismiss.dismissed[0].Package)

	g := newFixture(t, settings.Config{})
	events, unsub := g.bus.Subscribe(8)
	defer unsub()
	src := chat("Ann", "", "ping")
	src.Actions = []notification.Action{{Kind: notification.ActionCustom, Label: "Reply", Payload: "reply:1"}}
	res := g.fwd.Process(context.Background(), src)
	require.NoError(t, g.fwd.HandleAction(res.ID, 0))

	var got *eventbus.ActionEvent
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.RelayAction {
			a := e.Data.(eventbus.ActionEvent)
			got = &a
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "reply:1", got.Payload)

	require.Len(t, g.invoker.invoked, 1)
	assert.Equal(t, transport.CustomAction{Key: src.Key, Label: "Reply", Payload: "reply:1"}, g.invoker.invoked[0])

	g.invoker.err = errors.New("phone offline")
	assert.ErrorContains(t, g.fwd.HandleAction(res.ID, 0), "phone offline")
}

func TestHandleActionErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, settings.Config{})
	assert.ErrorIs(t, f.fwd.HandleAction(12345, 0), ErrUnknownNotification)

	out := f.fwd.Process(context.Background(), chat("Ann", "", "hello"))
	assert.ErrorIs(t, f.fwd.HandleAction(out.ID, 3), ErrUnknownAction)
}

func TestWithdrawCancelsQueuedTransfersForKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t, settings.Config{})
	ctx := context.Background()

	current := f.fwd.Process(ctx, chat("Ann", "", "first"))
	require.Equal(t, StatusDispatched, current.Status)

	other := chat("Bob", "", "unrelated")
	other.Key.ID = 2
	require.Equal(t, StatusDispatched, f.fwd.Process(ctx, other).Status)

	stale := f.fwd.Process(ctx, chat("Ann", "", "second"))
	require.Equal(t, StatusDispatched, stale.Status)
	require.Equal(t, 2, f.machine.QueueLen())

	got := f.fwd.Withdraw(notification.Key{Package: "com.chat", ID: 1})
	assert.Equal(t, []int32{stale.ID}, got)
	assert.Equal(t, 1, f.machine.QueueLen())
	require.NotNil(t, f.machine.Current())
	assert.Equal(t, current.ID, f.machine.Current().ID)

	assert.Empty(t, f.fwd.Withdraw(notification.Key{Package: "com.mail", ID: 1}))
}
