// Package mqtt bridges the relay to a phone-side listener and the watch radio through
// an MQTT broker. Outbound packets are published as binary dictionaries; device state,
// acks and notifications arrive on subscribed topics.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"wristrelay/internal/notification"
	rtsup "wristrelay/internal/runtime/supervisor"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
	logx "wristrelay/pkg/logx"
)

var ErrNotConnected = errors.New("mqtt: not connected to broker")

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

// Status is the device report published on the status topic.
type Status struct {
	Connected     bool      `json:"connected"`
	Platform      string    `json:"platform"`
	Firmware      string    `json:"firmware"`
	ForegroundApp uuid.UUID `json:"foreground_app"`
}

type dismissRequest struct {
	Key    notification.Key `json:"key"`
	Upward bool             `json:"upward,omitempty"`
}

type removedRequest struct {
	Key notification.Key `json:"key"`
}

type basicRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Basic bool   `json:"basic"`
}

type Driver struct {
	cfg    Config
	log    logx.Logger
	topics topics
	pump   *transport.Pump
	host   transport.HostState

	newClient func(*paho.ClientOptions) paho.Client

	clientMu sync.RWMutex
	client   paho.Client

	status atomic.Pointer[Status]

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	out     atomic.Pointer[chan<- transport.Update]
	dropped atomic.Uint64
}

var _ transport.Driver = (*Driver)(nil)

func New(cfg Config, log logx.Logger) (*Driver, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "wristrelay-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	log = log.With(logx.String("comp", "transport.mqtt"))
	d := &Driver{
		cfg:       cfg,
		log:       log,
		topics:    newTopics(cfg.Prefix),
		pump:      transport.NewPump(log),
		newClient: paho.NewClient,
	}
	d.status.Store(&Status{})
	return d, nil
}

func (d *Driver) Pump() *transport.Pump { return d.pump }

func (d *Driver) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(d.cfg.ClientID)
	opts.SetUsername(d.cfg.Username)
	opts.SetPassword(d.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(d.cfg.KeepAlive)
	opts.SetOnConnectHandler(d.onConnect)
	opts.SetConnectionLostHandler(d.onConnectionLost)
	return opts
}

// Start connects to the broker. An unreachable broker is not fatal: paho keeps
// retrying in the background and the relay treats the watch as disconnected.
func (d *Driver) Start(ctx context.Context, out chan<- transport.Update) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return nil
	}
	d.running = true
	d.out.Store(&out)
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
	sup := d.sup
	d.runMu.Unlock()

	c := d.newClient(d.options())
	d.clientMu.Lock()
	d.client = c
	d.clientMu.Unlock()

	tok := c.Connect()
	if !tok.WaitTimeout(d.cfg.ConnectTimeout) {
		d.log.Warn("broker not reachable yet; retrying in background", logx.String("broker", d.cfg.Broker))
	} else if err := tok.Error(); err != nil {
		d.disconnect()
		_ = d.Stop(ctx)
		return fmt.Errorf("mqtt connect: %w", err)
	}

	sup.Go("mqtt.drop_report", func(c context.Context) error {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				d.reportDropped()
				return nil
			case <-t.C:
				d.reportDropped()
			}
		}
	})
	sup.Go("mqtt.disconnect_on_cancel", func(c context.Context) error {
		<-c.Done()
		d.disconnect()
		return nil
	})
	return nil
}

func (d *Driver) reportDropped() {
	if n := d.dropped.Swap(0); n > 0 {
		d.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}
}

func (d *Driver) disconnect() {
	d.clientMu.Lock()
	c := d.client
	d.client = nil
	d.clientMu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
}

func (d *Driver) Stop(ctx context.Context) error {
	d.runMu.Lock()
	sup := d.sup
	d.sup = nil
	d.running = false
	d.out.Store(nil)
	d.runMu.Unlock()
	if sup == nil {
		return nil
	}
	d.log.Info("stopping")
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Driver) onConnect(c paho.Client) {
	filters := make(map[string]byte, 7)
	for _, t := range d.topics.inbound() {
		filters[t] = d.cfg.QoS
	}
	tok := c.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		d.handle(m.Topic(), m.Payload())
	})
	if tok.WaitTimeout(d.cfg.ConnectTimeout) && tok.Error() != nil {
		d.log.Error("subscribe failed", logx.Err(tok.Error()))
		return
	}
	d.log.Info("connected to broker", logx.String("broker", d.cfg.Broker), logx.String("prefix", d.topics.prefix))
}

func (d *Driver) onConnectionLost(_ paho.Client, err error) {
	d.log.Warn("connection to broker lost", logx.String("broker", d.cfg.Broker), logx.Err(err))
}

// handle routes one inbound message. Malformed payloads are logged and dropped.
func (d *Driver) handle(topic string, payload []byte) {
	suffix, ok := d.topics.suffix(topic)
	if !ok {
		return
	}
	switch suffix {
	case TopicReady:
		d.pump.Ack()
	case TopicOpened:
		// Reset never blocks; the update only informs the relay and may be dropped.
		d.pump.Reset()
		d.emit(transport.Update{Kind: transport.UpdateOpened})
	case TopicStatus:
		var st Status
		if err := json.Unmarshal(payload, &st); err != nil {
			d.log.Warn("bad status payload", logx.Err(err))
			return
		}
		d.status.Store(&st)
		if st.Connected {
			d.pump.Kick()
		}
	case TopicHost:
		if err := d.host.UpdateJSON(payload); err != nil {
			d.log.Warn("bad host payload", logx.Err(err))
		}
	case TopicNotifications:
		var src notification.Source
		if err := json.Unmarshal(payload, &src); err != nil {
			d.log.Warn("bad notification payload", logx.Err(err))
			return
		}
		if src.PostedAt.IsZero() {
			src.PostedAt = time.Now()
		}
		d.emit(transport.Update{Kind: transport.UpdateNotification, Notification: &src})
	case TopicActions:
		var req transport.ActionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			d.log.Warn("bad action payload", logx.Err(err))
			return
		}
		d.emit(transport.Update{Kind: transport.UpdateAction, Action: &req})
	case TopicRemoved:
		var req removedRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			d.log.Warn("bad removed payload", logx.Err(err))
			return
		}
		d.emit(transport.Update{Kind: transport.UpdateRemoved, Removed: &req.Key})
	default:
		d.log.Trace("ignoring topic", logx.String("topic", topic))
	}
}

func (d *Driver) emit(u transport.Update) {
	p := d.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- u:
	default:
		d.dropped.Add(1)
	}
}

func (d *Driver) publish(suffix string, payload any) error {
	d.clientMu.RLock()
	c := d.client
	d.clientMu.RUnlock()
	if c == nil || !c.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := c.Publish(d.topics.of(suffix), d.cfg.QoS, false, payload)
	if !tok.WaitTimeout(d.cfg.PublishTimeout) {
		return fmt.Errorf("mqtt: publish %s timed out", suffix)
	}
	return tok.Error()
}

func (d *Driver) publishJSON(suffix string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.publish(suffix, b)
}

func (d *Driver) Send(p wire.Dictionary) error {
	if !d.Connected() {
		return ErrNotConnected
	}
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return d.publish(TopicOut, b)
}

func (d *Driver) RequestNext() { d.pump.Kick() }

// Connected is true while both the broker and the watch behind it are reachable.
func (d *Driver) Connected() bool {
	d.clientMu.RLock()
	c := d.client
	d.clientMu.RUnlock()
	return c != nil && c.IsConnectionOpen() && d.status.Load().Connected
}

func (d *Driver) Platform() transport.Platform {
	return transport.Platform(d.status.Load().Platform)
}

func (d *Driver) Firmware() transport.Firmware {
	return transport.ParseFirmware(d.status.Load().Firmware)
}

func (d *Driver) ForegroundApp() uuid.UUID { return d.status.Load().ForegroundApp }

func (d *Driver) OpenCompanionApp() error {
	if d.ForegroundApp() == transport.CompanionApp {
		return nil
	}
	return d.publish(TopicOpen, transport.CompanionApp.String())
}

func (d *Driver) SendStructured(n transport.NativeNotification) error {
	return d.publishJSON(TopicNative, n)
}

func (d *Driver) SendBasic(title, body string) error {
	return d.publishJSON(TopicNative, basicRequest{Title: title, Body: body, Basic: true})
}

func (d *Driver) Dismiss(key notification.Key) error {
	return d.publishJSON(TopicDismiss, dismissRequest{Key: key})
}

func (d *Driver) RetractUpward(key notification.Key) error {
	return d.publishJSON(TopicDismiss, dismissRequest{Key: key, Upward: true})
}

func (d *Driver) InvokeAction(a transport.CustomAction) error {
	return d.publishJSON(TopicInvoke, a)
}

func (d *Driver) ScreenOn() bool                              { return d.host.ScreenOn() }
func (d *Driver) RingerSilent() bool                          { return d.host.RingerSilent() }
func (d *Driver) InterruptFiltered(key notification.Key) bool { return d.host.InterruptFiltered(key) }
