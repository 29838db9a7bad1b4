// Package transfer streams notifications to the watch one at a time.
//
// A transfer starts with an initial packet (title, subtitle, display config) followed by
// the body in chunk packets. Only one transfer is in flight; the rest wait in a FIFO.
// The pump calls NextMessage whenever the link can take another packet.
package transfer

import (
	"sync"
	"time"

	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	"wristrelay/internal/settings"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
	logx "wristrelay/pkg/logx"
)

// Link is the part of transport.Link the machine drives.
type Link interface {
	Send(d wire.Dictionary) error
	RequestNext()
	Platform() transport.Platform
	OpenCompanionApp() error
}

// Limiter decides vibration and records finished transfers.
type Limiter interface {
	ShouldVibrate(app string, minInterval time.Duration) bool
	RecordCompletion(app string, vibrated bool)
}

type Machine struct {
	link    Link
	limiter Limiter
	bus     eventbus.Bus
	log     logx.Logger

	mu      sync.Mutex
	current *notification.Outbound
	queue   []*notification.Outbound
}

type Option func(*Machine)

func WithBus(b eventbus.Bus) Option {
	return func(m *Machine) {
		if b != nil {
			m.bus = b
		}
	}
}

func WithLogger(l logx.Logger) Option {
	return func(m *Machine) {
		if !l.IsZero() {
			m.log = l
		}
	}
}

func NewMachine(link Link, limiter Limiter, opts ...Option) *Machine {
	m := &Machine{
		link:    link,
		limiter: limiter,
		bus:     eventbus.Nop(),
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enqueue prepares n for chunked transfer and either starts it or queues it behind the
// current non-list transfer. A current list transfer is superseded.
func (m *Machine) Enqueue(n *notification.Outbound) {
	n.Mode = notification.ModeChunked
	n.TextChunks = SplitChunks(n.Source.Text, ChunkSize)
	n.NextChunk = -1

	if err := m.link.OpenCompanionApp(); err != nil {
		m.log.Warn("open companion app failed", logx.Int32("id", n.ID), logx.Err(err))
	}

	m.mu.Lock()
	if m.current != nil && !m.current.IsList() {
		m.queue = append(m.queue, n)
		depth := len(m.queue)
		m.mu.Unlock()
		m.log.Debug("transfer queued", logx.Int32("id", n.ID), logx.Int("queue", depth))
		m.publish(eventbus.TransferQueued, n, depth, "")
		return
	}
	if m.current != nil {
		m.log.Debug("list transfer superseded", logx.Int32("id", m.current.ID), logx.Int32("by", n.ID))
	}
	m.current = n
	m.mu.Unlock()

	m.link.RequestNext()
}

// NextMessage sends the next packet of the current transfer, completing finished
// transfers and pulling queued ones along the way. It reports whether a packet went out.
func (m *Machine) NextMessage() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.current == nil {
			if len(m.queue) == 0 {
				return false
			}
			m.current = m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
		}
		cur := m.current

		switch {
		case cur.NextChunk < 0:
			d := m.buildInitial(cur)
			if !m.send(cur, d) {
				return false
			}
			cur.NextChunk = 0
			m.log.Debug("transfer started",
				logx.Int32("id", cur.ID),
				logx.String("app", cur.App()),
				logx.Int("chunks", len(cur.TextChunks)),
			)
			m.publish(eventbus.TransferStarted, cur, len(m.queue), "")
			return true

		case cur.NextChunk < len(cur.TextChunks):
			d := chunkPacket(cur.ID, cur.TextChunks[cur.NextChunk])
			if !m.send(cur, d) {
				return false
			}
			cur.NextChunk++
			return true

		default:
			m.complete(cur)
		}
	}
}

func (m *Machine) buildInitial(n *notification.Outbound) wire.Dictionary {
	pattern := settings.NullPattern
	if m.limiter.ShouldVibrate(n.App(), n.Settings.MinVibrationInterval) && len(n.Settings.VibrationPattern) > 0 {
		n.Vibrated = true
		pattern = n.Settings.VibrationPattern
	}
	return initialPacket(n, initialParams{platform: m.link.Platform(), pattern: pattern})
}

// send leaves progress untouched on failure so the packet is rebuilt on the next pull.
func (m *Machine) send(n *notification.Outbound, d wire.Dictionary) bool {
	if err := m.link.Send(d); err != nil {
		m.log.Warn("send packet failed", logx.Int32("id", n.ID), logx.Int("chunk", n.NextChunk), logx.Err(err))
		m.publish(eventbus.TransferSendError, n, len(m.queue), err.Error())
		return false
	}
	return true
}

func (m *Machine) complete(n *notification.Outbound) {
	m.limiter.RecordCompletion(n.App(), n.Vibrated)
	m.current = nil
	m.log.Debug("transfer completed", logx.Int32("id", n.ID), logx.Bool("vibrated", n.Vibrated))
	m.publish(eventbus.TransferCompleted, n, len(m.queue), "")
}

// AppOpened restarts the current transfer from its initial packet; the watch drops
// partial state when the companion app opens.
func (m *Machine) AppOpened() {
	m.mu.Lock()
	cur := m.current
	if cur != nil {
		cur.NextChunk = -1
	}
	pending := cur != nil || len(m.queue) > 0
	depth := len(m.queue)
	m.mu.Unlock()

	if cur != nil {
		m.log.Debug("transfer restarted", logx.Int32("id", cur.ID))
		m.publish(eventbus.TransferRestarted, cur, depth, "")
	}
	if pending {
		m.link.RequestNext()
	}
}

// Cancel drops queued transfers with id. The current transfer is never affected.
func (m *Machine) Cancel(id int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	removed := false
	for _, n := range m.queue {
		if n.ID == id {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	clear(m.queue[len(kept):])
	m.queue = kept
	return removed
}

func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil || len(m.queue) > 0
}

func (m *Machine) Current() *notification.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Machine) publish(typ string, n *notification.Outbound, queue int, errMsg string) {
	m.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.TransferEvent{
		App:      n.App(),
		ID:       n.ID,
		Chunks:   len(n.TextChunks),
		Vibrated: n.Vibrated,
		Queue:    queue,
		Err:      errMsg,
	}})
}
