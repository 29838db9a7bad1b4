package transfer

import (
	"github.com/google/uuid"

	"wristrelay/internal/notification"
	"wristrelay/internal/settings"
	"wristrelay/internal/transport"
	logx "wristrelay/pkg/logx"
)

type Mode int

const (
	DispatchChunked Mode = iota
	DispatchNative
	DispatchSuppressed
)

func (m Mode) String() string {
	switch m {
	case DispatchNative:
		return "native"
	case DispatchSuppressed:
		return "suppressed"
	default:
		return "chunked"
	}
}

// Registrar records dispatched notifications for later lookup.
type Registrar interface {
	Register(id int32, n *notification.Outbound)
}

// Device is the part of transport.Link dispatch consults.
type Device interface {
	ForegroundApp() uuid.UUID
	Firmware() transport.Firmware
}

// Structured native notifications need firmware newer than this.
const (
	nativeStructuredMajor = 2
	nativeStructuredMinor = 8
)

type Dispatcher struct {
	registry Registrar
	machine  *Machine
	device   Device
	native   transport.NativeSender
	log      logx.Logger
}

func NewDispatcher(registry Registrar, machine *Machine, device Device, native transport.NativeSender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{registry: registry, machine: machine, device: device, native: native, log: log}
}

// Dispatch registers n and hands it to the transfer path selected by the watch app in
// the foreground. List notifications always use the chunked protocol.
func (d *Dispatcher) Dispatch(n *notification.Outbound) Mode {
	d.registry.Register(n.ID, n)

	mode := settings.ModeChunked
	if !n.IsList() {
		mode = n.Settings.Global.AppModeFor(d.device.ForegroundApp())
	}

	switch mode {
	case settings.ModeNative:
		d.sendNative(n)
		return DispatchNative
	case settings.ModeNone:
		d.log.Debug("suppressed by foreground watch app", logx.Int32("id", n.ID), logx.String("app", n.App()))
		return DispatchSuppressed
	default:
		d.machine.Enqueue(n)
		return DispatchChunked
	}
}

// Cancel drops queued chunked transfers with id. Native and in-flight ones are already
// on the watch.
func (d *Dispatcher) Cancel(id int32) bool { return d.machine.Cancel(id) }

func (d *Dispatcher) sendNative(n *notification.Outbound) {
	n.Mode = notification.ModeNative
	src := n.Source

	var err error
	if d.device.Firmware().Newer(nativeStructuredMajor, nativeStructuredMinor) {
		labels := make([]string, 0, len(src.Actions))
		for _, a := range src.Actions {
			labels = append(labels, a.Label)
		}
		err = d.native.SendStructured(transport.NativeNotification{
			ID:       n.ID,
			Title:    src.Title,
			Subtitle: src.Subtitle,
			Body:     src.Text,
			Color:    src.Color,
			Actions:  labels,
		})
	} else {
		err = d.native.SendBasic(src.Title, src.Subtitle+"\n"+src.Text)
	}
	if err != nil {
		d.log.Warn("native notification failed", logx.Int32("id", n.ID), logx.Err(err))
	}
}
