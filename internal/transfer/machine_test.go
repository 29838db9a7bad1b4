package transfer

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wristrelay/internal/notification"
	"wristrelay/internal/ratelimit"
	"wristrelay/internal/settings"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
)

type fakeLink struct {
	mu        sync.Mutex
	platform  transport.Platform
	firmware  transport.Firmware
	fg        uuid.UUID
	sent      []wire.Dictionary
	requests  int
	opens     int
	failSends int

	structured []transport.NativeNotification
	basic      [][2]string
}

func (l *fakeLink) Send(d wire.Dictionary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSends > 0 {
		l.failSends--
		return errors.New("radio off")
	}
	l.sent = append(l.sent, d)
	return nil
}
func (l *fakeLink) RequestNext()                 { l.mu.Lock(); l.requests++; l.mu.Unlock() }
func (l *fakeLink) Platform() transport.Platform { return l.platform }
func (l *fakeLink) Firmware() transport.Firmware { return l.firmware }
func (l *fakeLink) ForegroundApp() uuid.UUID     { return l.fg }
func (l *fakeLink) OpenCompanionApp() error      { l.mu.Lock(); l.opens++; l.mu.Unlock(); return nil }
func (l *fakeLink) SendBasic(title, body string) error {
	l.basic = append(l.basic, [2]string{title, body})
	return nil
}
func (l *fakeLink) SendStructured(n transport.NativeNotification) error {
	l.structured = append(l.structured, n)
	return nil
}

func packetType(t *testing.T, d wire.Dictionary) uint64 {
	t.Helper()
	v, ok := d.Uint(keyType)
	require.True(t, ok)
	return v
}

func testSnapshot() settings.Snapshot {
	return settings.Snapshot{
		Global:           settings.Global{ShowMenuInstantly: true},
		TitleFont:        6,
		SubtitleFont:     5,
		BodyFont:         4,
		ShakeAction:      settings.ActionOpenRecent,
		SelectHoldAction: settings.ActionOpenMenu,
		VibrationPattern: []byte{0xF4, 0x01},
	}
}

func newOutbound(id int32, text string) *notification.Outbound {
	n := notification.NewOutbound(&notification.Source{
		Key:   notification.Key{Package: "com.chat"},
		Title: "Ann",
		Text:  text,
	}, testSnapshot())
	n.ID = id
	return n
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()
	chunks := SplitChunks(strings.Repeat("a", 250), ChunkSize)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)

	multi := SplitChunks(strings.Repeat("ž", 150), ChunkSize)
	require.Len(t, multi, 2)
	assert.Equal(t, 100, len([]rune(multi[0])))
	assert.Equal(t, 50, len([]rune(multi[1])))

	assert.Empty(t, SplitChunks("", ChunkSize))
}

func TestNextMessageProgression(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	lim := ratelimit.New()
	m := NewMachine(link, lim)

	n := newOutbound(11, strings.Repeat("x", 250))
	m.Enqueue(n)
	assert.Equal(t, 1, link.requests)
	assert.Equal(t, 1, link.opens)
	assert.Equal(t, -1, n.NextChunk)

	require.True(t, m.NextMessage())
	assert.Equal(t, uint64(packetInitial), packetType(t, link.sent[0]))
	assert.Equal(t, 0, n.NextChunk)
	assert.True(t, n.Vibrated)

	for want := 1; want <= 3; want++ {
		require.True(t, m.NextMessage())
		assert.Equal(t, want, n.NextChunk)
		assert.Equal(t, uint64(packetChunk), packetType(t, link.sent[want]))
	}
	chunk, ok := link.sent[3].String(keyConfig)
	require.True(t, ok)
	assert.Len(t, chunk, 50)

	assert.False(t, m.NextMessage())
	assert.Nil(t, m.Current())
	assert.False(t, m.Busy())
	_, recorded := lim.LastDelivery("com.chat")
	assert.True(t, recorded)

	assert.False(t, m.NextMessage(), "idle machine stays idle")
}

func TestQueueDrainsInOrder(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	m := NewMachine(link, ratelimit.New())

	a, b, c := newOutbound(1, "first"), newOutbound(2, "second"), newOutbound(3, "third")
	m.Enqueue(a)
	m.Enqueue(b)
	m.Enqueue(c)
	assert.Equal(t, 2, m.QueueLen())
	assert.Equal(t, 1, link.requests)

	var order []int32
	for m.NextMessage() {
		id, _ := link.sent[len(link.sent)-1].Int(keyID)
		if len(order) == 0 || order[len(order)-1] != int32(id) {
			order = append(order, int32(id))
		}
	}
	assert.Equal(t, []int32{1, 2, 3}, order)
	assert.Len(t, link.sent, 6)
}

func TestCancelIsIdempotentAndSparesCurrent(t *testing.T) {
	t.Parallel()
	m := NewMachine(&fakeLink{}, ratelimit.New())
	cur, queued := newOutbound(1, "a"), newOutbound(2, "b")
	m.Enqueue(cur)
	m.Enqueue(queued)

	assert.True(t, m.Cancel(2))
	assert.False(t, m.Cancel(2))
	assert.False(t, m.Cancel(1))
	assert.Same(t, cur, m.Current())
	assert.Zero(t, m.QueueLen())
}

func TestAppOpenedRestartsCurrent(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	m := NewMachine(link, ratelimit.New())
	n := newOutbound(5, strings.Repeat("y", 250))
	m.Enqueue(n)
	require.True(t, m.NextMessage())
	require.True(t, m.NextMessage())
	require.Equal(t, 1, n.NextChunk)

	m.AppOpened()
	assert.Equal(t, -1, n.NextChunk)
	assert.Equal(t, 2, link.requests)

	require.True(t, m.NextMessage())
	assert.Equal(t, uint64(packetInitial), packetType(t, link.sent[len(link.sent)-1]))
	assert.Equal(t, 0, n.NextChunk)
}

func TestListTransferIsSuperseded(t *testing.T) {
	t.Parallel()
	m := NewMachine(&fakeLink{}, ratelimit.New())
	list := newOutbound(1, "menu")
	list.Source.List = true
	m.Enqueue(list)
	next := newOutbound(2, "alert")
	m.Enqueue(next)

	assert.Same(t, next, m.Current())
	assert.Zero(t, m.QueueLen())
}

func TestSendFailureKeepsProgress(t *testing.T) {
	t.Parallel()
	link := &fakeLink{failSends: 1}
	m := NewMachine(link, ratelimit.New())
	n := newOutbound(9, "body")
	m.Enqueue(n)

	assert.False(t, m.NextMessage())
	assert.Equal(t, -1, n.NextChunk)
	assert.True(t, m.NextMessage())
	assert.Equal(t, 0, n.NextChunk)
}

func TestVibrationThrottledSendsNullPattern(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	lim := ratelimit.New(ratelimit.WithClock(func() time.Time { return now }))
	lim.RecordCompletion("com.chat", true)

	link := &fakeLink{}
	m := NewMachine(link, lim)
	n := newOutbound(3, "hello")
	n.Settings.MinVibrationInterval = time.Minute
	m.Enqueue(n)
	require.True(t, m.NextMessage())

	cfg, ok := link.sent[0].Bytes(keyConfig)
	require.True(t, ok)
	assert.Equal(t, []byte{2, 0, 0}, cfg[11:])
	assert.False(t, n.Vibrated)
}

func TestConfigBytes(t *testing.T) {
	t.Parallel()

	n := newOutbound(1, "héllo")
	n.Source.Color = 0xFFFF0000
	n.Source.ScrollToEnd = true
	n.Source.Actions = []notification.Action{{Label: "Reply"}, {Label: "Dismiss"}}
	n.Settings.PeriodicVibration = 45000
	n.Settings.SwitchToMostRecent = true
	n.Settings.SelectPressAction = settings.ActionOpenMenu

	cfg := configBytes(n, initialParams{platform: transport.PlatformBasalt, pattern: []byte{0xF4, 0x01}})
	assert.Equal(t, []byte{
		flagSwitch | flagScrollEnd | flagSelectMenu | flagHoldMenu,
		0x75, 0x30, // 30000 BE
		2,
		0, 6, // UTF-8 length of "héllo"
		settings.ActionOpenRecent,
		6, 5, 4,
		0xF0,
		2, 0xF4, 0x01,
	}, cfg)

	n.Settings.Global.ShowMenuInstantly = false
	n.Settings.ShakeAction = settings.ActionOpenMenu
	cfg = configBytes(n, initialParams{platform: transport.PlatformAplite, pattern: settings.NullPattern})
	assert.Equal(t, byte(flagSwitch|flagScrollEnd), cfg[0], "menu bits need the instant menu")
	assert.Equal(t, byte(settings.ActionOpenRecent), cfg[6])
	assert.Zero(t, cfg[10], "no color byte on monochrome platforms")
}

func TestDispatchModes(t *testing.T) {
	t.Parallel()
	nativeApp, silentApp := uuid.New(), uuid.New()
	global := settings.Global{WatchAppModes: map[uuid.UUID]settings.AppMode{
		nativeApp: settings.ModeNative,
		silentApp: settings.ModeNone,
	}}

	setup := func(fg uuid.UUID, fw transport.Firmware) (*fakeLink, *Machine, *Dispatcher, *regStub) {
		link := &fakeLink{fg: fg, firmware: fw}
		m := NewMachine(link, ratelimit.New())
		reg := &regStub{}
		return link, m, NewDispatcher(reg, m, link, link, nilLogger()), reg
	}
	withGlobal := func(n *notification.Outbound) *notification.Outbound {
		n.Settings.Global = global
		return n
	}

	t.Run("unknown app is chunked", func(t *testing.T) {
		_, m, d, reg := setup(uuid.Nil, transport.Firmware{})
		assert.Equal(t, DispatchChunked, d.Dispatch(withGlobal(newOutbound(1, "a"))))
		assert.NotNil(t, m.Current())
		assert.Equal(t, []int32{1}, reg.ids)
	})
	t.Run("native structured on new firmware", func(t *testing.T) {
		link, m, d, _ := setup(nativeApp, transport.Firmware{Major: 3})
		n := withGlobal(newOutbound(2, "body"))
		assert.Equal(t, DispatchNative, d.Dispatch(n))
		assert.Nil(t, m.Current())
		require.Len(t, link.structured, 1)
		assert.Equal(t, "body", link.structured[0].Body)
		assert.Equal(t, notification.ModeNative, n.Mode)
	})
	t.Run("native basic on old firmware", func(t *testing.T) {
		link, _, d, _ := setup(nativeApp, transport.Firmware{Major: 2, Minor: 8})
		n := withGlobal(newOutbound(3, "body"))
		n.Source.Subtitle = "sub"
		d.Dispatch(n)
		require.Len(t, link.basic, 1)
		assert.Equal(t, [2]string{"Ann", "sub\nbody"}, link.basic[0])
	})
	t.Run("suppressed app still registers", func(t *testing.T) {
		link, m, d, reg := setup(silentApp, transport.Firmware{})
		assert.Equal(t, DispatchSuppressed, d.Dispatch(withGlobal(newOutbound(4, "a"))))
		assert.Nil(t, m.Current())
		assert.Empty(t, link.sent)
		assert.Equal(t, []int32{4}, reg.ids)
	})
	t.Run("list ignores app mode", func(t *testing.T) {
		_, m, d, _ := setup(silentApp, transport.Firmware{})
		n := withGlobal(newOutbound(5, "menu"))
		n.Source.List = true
		assert.Equal(t, DispatchChunked, d.Dispatch(n))
		assert.Same(t, n, m.Current())
	})
}

type regStub struct{ ids []int32 }

func (r *regStub) Register(id int32, _ *notification.Outbound) { r.ids = append(r.ids, id) }
