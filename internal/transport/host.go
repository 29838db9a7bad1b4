package transport

import (
	"encoding/json"
	"slices"
	"sync"

	"wristrelay/internal/notification"
)

// HostEnvironment answers the phone-state questions the pipeline gates on.
type HostEnvironment interface {
	ScreenOn() bool
	RingerSilent() bool
	// InterruptFiltered reports whether do-not-disturb hides key's notification.
	InterruptFiltered(key notification.Key) bool
}

// HostReport is the JSON document published by the phone whenever its state changes.
type HostReport struct {
	ScreenOn     bool `json:"screen_on"`
	RingerSilent bool `json:"ringer_silent"`
	DoNotDisturb bool `json:"dnd"`
	// DNDAllowed lists packages that still break through do-not-disturb.
	DNDAllowed []string `json:"dnd_allowed,omitempty"`
}

// HostState is a concurrency-safe HostEnvironment updated from reports.
type HostState struct {
	mu     sync.RWMutex
	report HostReport
}

func (h *HostState) Set(r HostReport) {
	h.mu.Lock()
	h.report = r
	h.mu.Unlock()
}

// UpdateJSON applies a raw report. Fields missing from the payload keep their value.
func (h *HostState) UpdateJSON(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.report
	if err := json.Unmarshal(payload, &r); err != nil {
		return err
	}
	h.report = r
	return nil
}

func (h *HostState) Report() HostReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report
}

func (h *HostState) ScreenOn() bool     { return h.Report().ScreenOn }
func (h *HostState) RingerSilent() bool { return h.Report().RingerSilent }

func (h *HostState) InterruptFiltered(key notification.Key) bool {
	r := h.Report()
	return r.DoNotDisturb && !slices.Contains(r.DNDAllowed, key.Package)
}
