package app

import (
	"time"

	"github.com/google/uuid"

	rtsup "wristrelay/internal/runtime/supervisor"
	"wristrelay/internal/transport"
	"wristrelay/internal/transport/loop"
	"wristrelay/internal/transport/mqtt"
)

// Status is the document served at the debug server's /status endpoint.
type Status struct {
	StartedAt time.Time       `json:"started_at"`
	Uptime    string          `json:"uptime"`
	Transport TransportStatus `json:"transport"`
	Transfer  TransferStatus  `json:"transfer"`
	Registry  int             `json:"registry_size"`
	Apps      []AppStatus     `json:"apps,omitempty"`
	History   bool            `json:"history"`
	Runtime   *rtsup.Snapshot `json:"runtime,omitempty"`
}

type TransportStatus struct {
	Driver        string `json:"driver"`
	Connected     bool   `json:"connected"`
	Platform      string `json:"platform,omitempty"`
	Firmware      string `json:"firmware"`
	ForegroundApp string `json:"foreground_app,omitempty"`
}

type TransferStatus struct {
	Busy        bool   `json:"busy"`
	CurrentID   int32  `json:"current_id,omitempty"`
	CurrentApp  string `json:"current_app,omitempty"`
	Queue       int    `json:"queue"`
	InFlight    bool   `json:"in_flight"`
	PacketsSent uint64 `json:"packets_sent"`
}

// AppStatus summarizes the registered notifications of one source app.
type AppStatus struct {
	App          string     `json:"app"`
	Registered   int        `json:"registered"`
	LastID       int32      `json:"last_id"`
	LastDelivery *time.Time `json:"last_delivery,omitempty"`
}

func (a *App) Status() Status {
	st := Status{
		StartedAt: a.startedAt,
		Transport: TransportStatus{
			Driver:    transportName(a.driver),
			Connected: a.driver.Connected(),
			Platform:  string(a.driver.Platform()),
			Firmware:  a.driver.Firmware().String(),
		},
		Transfer: TransferStatus{
			Busy:        a.machine.Busy(),
			Queue:       a.machine.QueueLen(),
			InFlight:    a.driver.Pump().InFlight(),
			PacketsSent: a.driver.Pump().Sent(),
		},
		Registry: a.registry.Len(),
		History:  a.store != nil,
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if fg := a.driver.ForegroundApp(); fg != uuid.Nil {
		st.Transport.ForegroundApp = fg.String()
	}
	if cur := a.machine.Current(); cur != nil {
		st.Transfer.CurrentID = cur.ID
		st.Transfer.CurrentApp = cur.App()
	}
	st.Apps = a.appStatus()
	if a.sup != nil {
		snap := a.sup.Snapshot()
		st.Runtime = &snap
	}
	return st
}

// appStatus groups the registry by app, ordered by first registration.
func (a *App) appStatus() []AppStatus {
	var out []AppStatus
	idx := map[string]int{}
	for _, n := range a.registry.Snapshot() {
		app := n.App()
		i, ok := idx[app]
		if !ok {
			i = len(out)
			idx[app] = i
			out = append(out, AppStatus{App: app})
			if t, ok := a.limiter.LastDelivery(app); ok {
				out[i].LastDelivery = &t
			}
		}
		out[i].Registered++
		out[i].LastID = n.ID
	}
	return out
}

func transportName(d transport.Driver) string {
	switch d.(type) {
	case *mqtt.Driver:
		return "mqtt"
	case *loop.Driver:
		return "loop"
	default:
		return "custom"
	}
}
