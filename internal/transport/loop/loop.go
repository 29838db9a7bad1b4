// Package loop is an in-process transport. It records every packet instead of talking
// to a device and acks at a configurable rate, which makes it the driver for dry runs
// and end-to-end tests.
package loop

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wristrelay/internal/notification"
	rtsup "wristrelay/internal/runtime/supervisor"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
	logx "wristrelay/pkg/logx"
)

var ErrDisconnected = errors.New("loop: watch disconnected")

type Config struct {
	Platform transport.Platform
	Firmware transport.Firmware
	// PacketsPerSecond paces acks; 0 acks as soon as the ack loop sees the packet.
	PacketsPerSecond float64
	Burst            int
	Disconnected     bool
	Host             transport.HostReport
}

// BasicNotification is a record of a plain title/body native post.
type BasicNotification struct {
	Title string
	Body  string
}

type Driver struct {
	cfg  Config
	log  logx.Logger
	pump *transport.Pump
	host transport.HostState

	pace      *rate.Limiter
	acks      chan struct{}
	connected atomic.Bool
	fg        atomic.Pointer[uuid.UUID]
	opens     atomic.Int64

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	out   chan<- transport.Update

	mu        sync.Mutex
	sent      []wire.Dictionary
	native    []transport.NativeNotification
	basic     []BasicNotification
	dismissed []notification.Key
	retracted []notification.Key
	invoked   []transport.CustomAction
}

var _ transport.Driver = (*Driver)(nil)

func New(cfg Config, log logx.Logger) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Platform == transport.PlatformUnknown {
		cfg.Platform = transport.PlatformBasalt
	}
	if cfg.Firmware == (transport.Firmware{}) {
		cfg.Firmware = transport.Firmware{Major: 4, Minor: 3}
	}
	d := &Driver{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "transport.loop")),
		acks: make(chan struct{}, 64),
	}
	d.pump = transport.NewPump(d.log)
	if cfg.PacketsPerSecond > 0 {
		d.pace = rate.NewLimiter(rate.Limit(cfg.PacketsPerSecond), max(cfg.Burst, 1))
	}
	d.connected.Store(!cfg.Disconnected)
	d.host.Set(cfg.Host)
	return d
}

func (d *Driver) Pump() *transport.Pump { return d.pump }

// Start begins acking packets. Updates injected through the Post helpers go to out.
func (d *Driver) Start(ctx context.Context, out chan<- transport.Update) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.sup != nil {
		return errors.New("loop: already started")
	}
	d.out = out
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
	d.sup.Go("loop.ack", d.ackLoop)
	d.log.Info("loop transport started",
		logx.String("platform", string(d.cfg.Platform)),
		logx.String("firmware", d.cfg.Firmware.String()),
	)
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.runMu.Lock()
	sup := d.sup
	d.sup = nil
	d.runMu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (d *Driver) ackLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.acks:
		}
		if d.pace != nil {
			if err := d.pace.Wait(ctx); err != nil {
				return nil
			}
		}
		d.pump.Ack()
	}
}

func (d *Driver) Send(p wire.Dictionary) error {
	if !d.connected.Load() {
		return ErrDisconnected
	}
	d.mu.Lock()
	d.sent = append(d.sent, p)
	d.mu.Unlock()
	select {
	case d.acks <- struct{}{}:
	default:
		d.log.Warn("ack backlog full; packet will not be acked")
	}
	return nil
}

func (d *Driver) RequestNext()                 { d.pump.Kick() }
func (d *Driver) Connected() bool              { return d.connected.Load() }
func (d *Driver) Platform() transport.Platform { return d.cfg.Platform }
func (d *Driver) Firmware() transport.Firmware { return d.cfg.Firmware }

func (d *Driver) ForegroundApp() uuid.UUID {
	if p := d.fg.Load(); p != nil {
		return *p
	}
	return uuid.Nil
}

// OpenCompanionApp brings the companion app to the foreground. Packets sent to the
// loop are never lost, so unlike a real watch no UpdateOpened follows; use Reopen to
// simulate a relaunch.
func (d *Driver) OpenCompanionApp() error {
	if !d.connected.Load() {
		return ErrDisconnected
	}
	if d.ForegroundApp() != transport.CompanionApp {
		d.SetForeground(transport.CompanionApp)
		d.opens.Add(1)
	}
	return nil
}

func (d *Driver) SendStructured(n transport.NativeNotification) error {
	if !d.connected.Load() {
		return ErrDisconnected
	}
	d.mu.Lock()
	d.native = append(d.native, n)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SendBasic(title, body string) error {
	if !d.connected.Load() {
		return ErrDisconnected
	}
	d.mu.Lock()
	d.basic = append(d.basic, BasicNotification{Title: title, Body: body})
	d.mu.Unlock()
	return nil
}

func (d *Driver) Dismiss(key notification.Key) error {
	d.mu.Lock()
	d.dismissed = append(d.dismissed, key)
	d.mu.Unlock()
	return nil
}

func (d *Driver) RetractUpward(key notification.Key) error {
	d.mu.Lock()
	d.retracted = append(d.retracted, key)
	d.mu.Unlock()
	return nil
}

func (d *Driver) InvokeAction(a transport.CustomAction) error {
	d.mu.Lock()
	d.invoked = append(d.invoked, a)
	d.mu.Unlock()
	return nil
}

func (d *Driver) ScreenOn() bool                              { return d.host.ScreenOn() }
func (d *Driver) RingerSilent() bool                          { return d.host.RingerSilent() }
func (d *Driver) InterruptFiltered(key notification.Key) bool { return d.host.InterruptFiltered(key) }

// emit delivers u unless the driver stops first.
func (d *Driver) emit(u transport.Update) bool {
	d.runMu.Lock()
	sup, out := d.sup, d.out
	d.runMu.Unlock()
	if sup == nil || out == nil {
		return false
	}
	select {
	case out <- u:
		return true
	case <-sup.Context().Done():
		return false
	}
}

// Post injects a notification as if the phone listener had produced it.
func (d *Driver) Post(src *notification.Source) bool {
	return d.emit(transport.Update{Kind: transport.UpdateNotification, Notification: src})
}

// PressAction injects an action menu press.
func (d *Driver) PressAction(id int32, index int) bool {
	return d.emit(transport.Update{Kind: transport.UpdateAction, Action: &transport.ActionRequest{ID: id, Index: index}})
}

// Withdraw injects an upstream removal of key.
func (d *Driver) Withdraw(key notification.Key) bool {
	return d.emit(transport.Update{Kind: transport.UpdateRemoved, Removed: &key})
}

// Reopen simulates the user relaunching the companion app mid-transfer.
func (d *Driver) Reopen() bool {
	d.SetForeground(transport.CompanionApp)
	d.opens.Add(1)
	d.pump.Reset()
	return d.emit(transport.Update{Kind: transport.UpdateOpened})
}

func (d *Driver) SetForeground(app uuid.UUID)    { d.fg.Store(&app) }
func (d *Driver) SetConnected(ok bool)           { d.connected.Store(ok) }
func (d *Driver) SetHost(r transport.HostReport) { d.host.Set(r) }
func (d *Driver) Opens() int                     { return int(d.opens.Load()) }

func (d *Driver) Sent() []wire.Dictionary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sent)
}

func (d *Driver) Native() []transport.NativeNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.native)
}

func (d *Driver) Basic() []BasicNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.basic)
}

func (d *Driver) Dismissed() []notification.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.dismissed)
}

func (d *Driver) Retracted() []notification.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.retracted)
}

func (d *Driver) Invoked() []transport.CustomAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.invoked)
}
