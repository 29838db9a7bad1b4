// Package metrics exports relay activity as Prometheus metrics. Counters are fed from
// the event bus so the pipeline and transfer machine stay unaware of Prometheus.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wristrelay/internal/eventbus"
)

const namespace = "wristrelay"

type Metrics struct {
	registry *prometheus.Registry

	Notifications *prometheus.CounterVec // by outcome (accepted, dropped, hidden) and reason
	Transfers     *prometheus.CounterVec // by transfer event
	Actions       *prometheus.CounterVec // custom actions handed back to the phone, by app
	Vibrations    prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// New registers the relay metrics plus Go runtime and process collectors on a
// private registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications seen by the relay, by outcome and drop reason.",
		}, []string{"outcome", "reason"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer state machine events.",
		}, []string{"event"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "custom_actions_total",
			Help:      "Custom notification actions forwarded to the phone.",
		}, []string{"app"}),
		Vibrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vibrations_total",
			Help:      "Completed transfers that vibrated the watch.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_queue_depth",
			Help:      "Transfers waiting behind the current one.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Notifications, m.Transfers, m.Actions, m.Vibrations, m.QueueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Observe folds one bus event into the metrics. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.RelayAccepted, eventbus.RelayDropped, eventbus.RelayHidden:
		ev, _ := e.Data.(eventbus.RelayEvent)
		m.Notifications.WithLabelValues(outcome(e.Type), ev.Reason).Inc()
	case eventbus.RelayAction:
		ev, _ := e.Data.(eventbus.ActionEvent)
		m.Actions.WithLabelValues(ev.App).Inc()
	case eventbus.TransferStarted, eventbus.TransferCompleted, eventbus.TransferRestarted,
		eventbus.TransferQueued, eventbus.TransferSendError:
		ev, _ := e.Data.(eventbus.TransferEvent)
		m.Transfers.WithLabelValues(e.Type).Inc()
		m.QueueDepth.Set(float64(ev.Queue))
		if e.Type == eventbus.TransferCompleted && ev.Vibrated {
			m.Vibrations.Inc()
		}
	}
}

func outcome(typ string) string {
	switch typ {
	case eventbus.RelayAccepted:
		return "accepted"
	case eventbus.RelayHidden:
		return "hidden"
	default:
		return "dropped"
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
