package transport

import (
	"context"
	"sync/atomic"

	logx "wristrelay/pkg/logx"
)

// Scheduler produces the next packet. NextMessage sends at most one packet through the
// link and reports whether it did.
type Scheduler interface {
	NextMessage() bool
}

// Pump enforces one packet in flight. Every call into the scheduler happens on the Run
// goroutine, so link callbacks never re-enter the transfer machine.
type Pump struct {
	log   logx.Logger
	sched atomic.Pointer[schedulerBox]

	kick  chan struct{}
	ack   chan uint64
	reset chan struct{}

	// gen counts Reset calls. Acks carry the gen they were raised in; acks older than
	// the last processed reset belong to a packet the watch already discarded.
	gen   atomic.Uint64
	epoch uint64 // Run goroutine only

	inflight atomic.Bool
	sent     atomic.Uint64
}

// Rewinder is implemented by schedulers that restart their current transfer when the
// companion app reopens. Reset calls it on the Run goroutine before pulling.
type Rewinder interface {
	AppOpened()
}

type schedulerBox struct{ s Scheduler }

func NewPump(log logx.Logger) *Pump {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pump{
		log:   log,
		kick:  make(chan struct{}, 1),
		ack:   make(chan uint64, 1),
		reset: make(chan struct{}, 1),
	}
}

// Bind sets the scheduler. Binding while running takes effect on the next signal.
func (p *Pump) Bind(s Scheduler) { p.sched.Store(&schedulerBox{s: s}) }

// Kick is RequestNext: pull a packet if none is in flight.
func (p *Pump) Kick() { signal(p.kick) }

// Ack marks the in-flight packet as accepted by the device.
func (p *Pump) Ack() {
	select {
	case p.ack <- p.gen.Load():
	default:
	}
}

// Reset forgets the in-flight packet and rewinds the scheduler, e.g. after the
// companion app was reopened. Acks raised before Reset are ignored.
func (p *Pump) Reset() {
	p.gen.Add(1)
	signal(p.reset)
}

// InFlight reports whether a packet awaits its ack.
func (p *Pump) InFlight() bool { return p.inflight.Load() }

// Sent counts packets handed to the link.
func (p *Pump) Sent() uint64 { return p.sent.Load() }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.kick:
			if !p.inflight.Load() {
				p.pull()
			}
		case g := <-p.ack:
			p.onAck(g)
		case <-p.reset:
			p.onReset()
		}
	}
}

func (p *Pump) onAck(gen uint64) {
	if gen < p.epoch {
		p.log.Trace("stale ack ignored", logx.Uint64("gen", gen), logx.Uint64("epoch", p.epoch))
		return
	}
	p.inflight.Store(false)
	p.pull()
}

func (p *Pump) onReset() {
	p.epoch = p.gen.Load()
	// Anything still buffered was raised for the packet being discarded.
	select {
	case <-p.ack:
	default:
	}
	p.inflight.Store(false)
	if box := p.sched.Load(); box != nil {
		if r, ok := box.s.(Rewinder); ok {
			r.AppOpened()
		}
	}
	p.pull()
}

func (p *Pump) pull() {
	box := p.sched.Load()
	if box == nil || box.s == nil {
		return
	}
	if box.s.NextMessage() {
		p.inflight.Store(true)
		p.sent.Add(1)
		return
	}
	p.log.Trace("pump idle")
}
