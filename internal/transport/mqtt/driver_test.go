package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wristrelay/internal/notification"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
	logx "wristrelay/pkg/logx"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	open         bool
	disconnected bool
	filters      map[string]byte
	pubs         []published
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return doneToken{}
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.open = false
	c.disconnected = true
	c.mu.Unlock()
}
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload any) paho.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.mu.Lock()
	c.pubs = append(c.pubs, published{topic: topic, payload: b})
	c.mu.Unlock()
	return doneToken{}
}
func (c *fakeClient) Subscribe(string, byte, paho.MessageHandler) paho.Token { return doneToken{} }
func (c *fakeClient) SubscribeMultiple(filters map[string]byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
	return doneToken{}
}
func (c *fakeClient) Unsubscribe(...string) paho.Token        { return doneToken{} }
func (c *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (c *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.pubs...)
}

func startDriver(t *testing.T) (*Driver, *fakeClient, chan transport.Update) {
	t.Helper()
	d, err := New(Config{Broker: "tcp://broker.test:1883", Prefix: "/home/watch/"}, logx.Nop())
	require.NoError(t, err)
	fc := &fakeClient{}
	d.newClient = func(*paho.ClientOptions) paho.Client { return fc }

	out := make(chan transport.Update, 4)
	require.NoError(t, d.Start(context.Background(), out))
	t.Cleanup(func() { require.NoError(t, d.Stop(context.Background())) })
	d.onConnect(fc)
	return d, fc, out
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)
}

func TestSubscribesInboundTopics(t *testing.T) {
	_, fc, _ := startDriver(t)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.filters, 7)
	assert.Contains(t, fc.filters, "home/watch/notifications")
	assert.Contains(t, fc.filters, "home/watch/removed")
	assert.Contains(t, fc.filters, "home/watch/ready")
}

func TestStatusGatesSend(t *testing.T) {
	d, fc, _ := startDriver(t)

	var p wire.Dictionary
	p.AddInt32(0, 7)
	p.AddString(1, "hello")
	require.ErrorIs(t, d.Send(p), ErrNotConnected)

	d.handle("home/watch/status", []byte(`{"connected":true,"platform":"chalk","firmware":"v3.12","foreground_app":"`+transport.CompanionApp.String()+`"}`))
	assert.True(t, d.Connected())
	assert.Equal(t, transport.PlatformChalk, d.Platform())
	assert.Equal(t, transport.Firmware{Major: 3, Minor: 12}, d.Firmware())
	assert.Equal(t, transport.CompanionApp, d.ForegroundApp())

	require.NoError(t, d.Send(p))
	require.NoError(t, d.OpenCompanionApp(), "already foreground, nothing published")

	pubs := fc.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "home/watch/out", pubs[0].topic)
	var got wire.Dictionary
	require.NoError(t, got.UnmarshalBinary(pubs[0].payload))
	s, ok := got.String(1)
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestInboundUpdates(t *testing.T) {
	d, _, out := startDriver(t)

	d.handle("home/watch/notifications", []byte(`{"key":{"package":"com.chat","id":4},"title":"Ann","text":"lunch?"}`))
	d.handle("home/watch/actions", []byte(`{"id":99,"index":2}`))
	d.handle("home/watch/opened", nil)
	d.handle("home/watch/removed", []byte(`{"key":{"package":"com.chat","id":4}}`))
	d.handle("home/watch/notifications", []byte(`{not json`))
	d.handle("home/watch/removed", []byte(`[]`))
	d.handle("elsewhere/notifications", []byte(`{}`))

	u := <-out
	require.Equal(t, transport.UpdateNotification, u.Kind)
	assert.Equal(t, notification.Key{Package: "com.chat", ID: 4}, u.Notification.Key)
	assert.Equal(t, "lunch?", u.Notification.Text)
	assert.False(t, u.Notification.PostedAt.IsZero())

	u = <-out
	require.Equal(t, transport.UpdateAction, u.Kind)
	assert.Equal(t, &transport.ActionRequest{ID: 99, Index: 2}, u.Action)

	u = <-out
	assert.Equal(t, transport.UpdateOpened, u.Kind)

	u = <-out
	require.Equal(t, transport.UpdateRemoved, u.Kind)
	assert.Equal(t, &notification.Key{Package: "com.chat", ID: 4}, u.Removed)
	assert.Empty(t, out)
}

type rewinder struct{ rewinds atomic.Int32 }

func (r *rewinder) NextMessage() bool { return false }
func (r *rewinder) AppOpened()        { r.rewinds.Add(1) }

func TestOpenedResetsPumpWhenUpdatesFull(t *testing.T) {
	d, _, out := startDriver(t)
	r := &rewinder{}
	d.Pump().Bind(r)

	ctx, cancel := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		_ = d.Pump().Run(ctx)
	}()
	defer func() {
		cancel()
		<-pumpDone
	}()

	for len(out) < cap(out) {
		out <- transport.Update{Kind: transport.UpdateAction}
	}
	d.handle("home/watch/opened", nil)

	require.Eventually(t, func() bool { return r.rewinds.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), d.dropped.Load())
}

func TestHostAndDismiss(t *testing.T) {
	d, fc, _ := startDriver(t)

	d.handle("home/watch/host", []byte(`{"screen_on":true,"dnd":true,"dnd_allowed":["com.vip"]}`))
	assert.True(t, d.ScreenOn())
	assert.True(t, d.InterruptFiltered(notification.Key{Package: "com.chat"}))
	assert.False(t, d.InterruptFiltered(notification.Key{Package: "com.vip"}))

	d.handle("home/watch/host", []byte(`{"ringer_silent":true}`))
	assert.True(t, d.RingerSilent())
	assert.True(t, d.ScreenOn(), "missing fields keep their value")

	key := notification.Key{Package: "com.chat", Tag: "t", ID: 1}
	require.NoError(t, d.RetractUpward(key))
	require.NoError(t, d.SendBasic("Ann", "hi"))

	pubs := fc.published()
	require.Len(t, pubs, 2)
	assert.Equal(t, "home/watch/dismiss", pubs[0].topic)
	var req dismissRequest
	require.NoError(t, json.Unmarshal(pubs[0].payload, &req))
	assert.Equal(t, key, req.Key)
	assert.True(t, req.Upward)
	assert.Equal(t, "home/watch/native", pubs[1].topic)
	assert.JSONEq(t, `{"title":"Ann","body":"hi","basic":true}`, string(pubs[1].payload))
}

func TestInvokeActionPublishes(t *testing.T) {
	d, fc, _ := startDriver(t)

	a := transport.CustomAction{Key: notification.Key{Package: "com.chat", ID: 3}, Label: "Reply", Payload: "ok"}
	require.NoError(t, d.InvokeAction(a))

	pubs := fc.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "home/watch/invoke", pubs[0].topic)
	var got transport.CustomAction
	require.NoError(t, json.Unmarshal(pubs[0].payload, &got))
	assert.Equal(t, a, got)
}

func TestStopDisconnects(t *testing.T) {
	d, err := New(Config{Broker: "tcp://broker.test:1883"}, logx.Nop())
	require.NoError(t, err)
	fc := &fakeClient{}
	d.newClient = func(*paho.ClientOptions) paho.Client { return fc }
	require.NoError(t, d.Start(context.Background(), make(chan transport.Update, 1)))
	require.NoError(t, d.Stop(context.Background()))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.True(t, fc.disconnected)
	assert.ErrorIs(t, d.Dismiss(notification.Key{}), ErrNotConnected)
}
