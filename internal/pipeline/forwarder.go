// Package pipeline decides whether a notification reaches the watch and in what shape.
//
// Forwarder.Process normalizes titles, applies per-app filters, quiet hours and phone
// state gates, records history, runs group admission and finally hands the
// notification to dispatch, optionally behind a privacy cover.
package pipeline

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	"wristrelay/internal/settings"
	"wristrelay/internal/storage"
	"wristrelay/internal/transfer"
	"wristrelay/internal/transport"
	logx "wristrelay/pkg/logx"
)

type Status int

const (
	StatusDispatched Status = iota
	// StatusDropped: a gate filtered the notification before an id was allocated.
	StatusDropped
	// StatusSuppressed: the notification got an id but was not transferred.
	StatusSuppressed
	// StatusHidden: a privacy cover was dispatched in place of the notification.
	StatusHidden
)

func (s Status) String() string {
	switch s {
	case StatusDropped:
		return "dropped"
	case StatusSuppressed:
		return "suppressed"
	case StatusHidden:
		return "hidden"
	default:
		return "dispatched"
	}
}

// Drop reasons.
const (
	ReasonNotIncluded      = "not_included"
	ReasonExcluded         = "excluded"
	ReasonEmpty            = "empty"
	ReasonDisabled         = "disabled"
	ReasonRingerSilent     = "ringer_silent"
	ReasonInterruptFilter  = "interrupt_filter"
	ReasonQuietHours       = "quiet_hours"
	ReasonNoDevice         = "no_device"
	ReasonScreenOn         = "screen_on"
	ReasonInterval         = "min_interval"
	ReasonGroup            = "group"
	ReasonWatchApp         = "watch_app"
	ReasonCoverNotAccepted = "cover_rejected"
)

type Outcome struct {
	Status Status
	Reason string
	ID     int32
	Mode   transfer.Mode
}

// Settings resolves the per-app snapshot.
type Settings interface {
	Resolve(app string) settings.Snapshot
}

// Registry is the dedup registry as seen by the pipeline.
type Registry interface {
	Allocate() int32
	Register(id int32, n *notification.Outbound)
	Lookup(id int32) (*notification.Outbound, bool)
	Snapshot() []*notification.Outbound
	CanAdmit(candidate *notification.Source, groupMode, sendIdentical bool) bool
}

type IntervalLimiter interface {
	ShouldSendByInterval(app string, minInterval time.Duration) bool
}

type Dispatcher interface {
	Dispatch(n *notification.Outbound) transfer.Mode
	Cancel(id int32) bool
}

type Connectivity interface {
	Connected() bool
}

type History interface {
	AppendHistory(ctx context.Context, e storage.HistoryEntry) error
}

// Deps are the Forwarder's collaborators. History, Invoker and Bus are optional.
type Deps struct {
	Settings   Settings
	Registry   Registry
	Limiter    IntervalLimiter
	Dispatcher Dispatcher
	Host       transport.HostEnvironment
	Link       Connectivity
	Dismisser  transport.Dismisser
	Invoker    transport.ActionInvoker
	History    History
	Bus        eventbus.Bus
	Log        logx.Logger
	Now        func() time.Time
}

const historyWriteTimeout = 5 * time.Second

type Forwarder struct {
	d Deps

	// mu serializes Process and HandleAction; transport callbacks arrive concurrently.
	mu sync.Mutex

	reMu    sync.Mutex
	regexes map[string]*regexp.Regexp
	badRe   map[string]bool

	historyWG sync.WaitGroup
}

func NewForwarder(d Deps) *Forwarder {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Forwarder{
		d:       d,
		regexes: map[string]*regexp.Regexp{},
		badRe:   map[string]bool{},
	}
}

// Close waits for pending history writes.
func (f *Forwarder) Close() {
	f.historyWG.Wait()
}

// Process runs src through the pipeline. src's title, subtitle and text are rewritten.
func (f *Forwarder) Process(ctx context.Context, src *notification.Source) Outcome {
	if src == nil {
		return Outcome{Status: StatusDropped, Reason: ReasonEmpty}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.process(ctx, src, false)
}

func (f *Forwarder) process(ctx context.Context, src *notification.Source, cover bool) Outcome {
	app := src.Key.Package
	snap := f.d.Settings.Resolve(app)
	log := f.d.Log.With(logx.String("app", app))

	normalizeTitles(src, snap)

	textLimit := snap.TextLimit
	if textLimit <= 0 {
		textLimit = settings.TextLimit
	}

	if !src.List {
		if reason, drop := f.regexGate(src, snap); drop {
			return f.drop(log, app, reason)
		}
		f.recordHistory(ctx, src, snap, textLimit)
	}

	src.Text = prepare(src.Text, textLimit)
	src.Title = prepare(src.Title, settings.TitleLimit)
	src.Subtitle = prepare(src.Subtitle, settings.TitleLimit)

	if !src.List {
		if !snap.SendBlank && strings.TrimSpace(src.Text) == "" && strings.TrimSpace(src.Subtitle) == "" {
			return f.drop(log, app, ReasonEmpty)
		}
		if reason, drop := f.killSwitches(src, snap); drop {
			return f.drop(log, app, reason)
		}
	}

	if snap.StatusbarColor>>24 != 0 {
		src.Color = snap.StatusbarColor
	}

	n := notification.NewOutbound(src, snap)
	n.ID = f.d.Registry.Allocate()

	if !src.List && !f.d.Registry.CanAdmit(src, snap.GroupNotifications, snap.SendIdentical) {
		f.d.Registry.Register(n.ID, n)
		log.Debug("notification suppressed", logx.Int32("id", n.ID), logx.String("reason", ReasonGroup))
		f.publish(eventbus.RelayDropped, app, n.ID, ReasonGroup, "")
		return Outcome{Status: StatusSuppressed, Reason: ReasonGroup, ID: n.ID}
	}

	if f.d.Dismisser != nil {
		if err := f.d.Dismisser.RetractUpward(src.Key); err != nil {
			log.Debug("retract dismiss chain failed", logx.Err(err))
		}
	}

	if !cover && snap.HideText && !src.List && !src.HidingTextDisallowed {
		return f.sendPrivate(ctx, n)
	}

	mode := f.d.Dispatcher.Dispatch(n)
	if mode == transfer.DispatchSuppressed {
		f.publish(eventbus.RelayDropped, app, n.ID, ReasonWatchApp, mode.String())
		return Outcome{Status: StatusSuppressed, Reason: ReasonWatchApp, ID: n.ID, Mode: mode}
	}
	log.Debug("notification dispatched", logx.Int32("id", n.ID), logx.String("mode", mode.String()))
	f.publish(eventbus.RelayAccepted, app, n.ID, "", mode.String())
	return Outcome{Status: StatusDispatched, ID: n.ID, Mode: mode}
}

// normalizeTitles applies the custom title, infers or folds the subtitle and collapses
// a subtitle that repeats the title.
func normalizeTitles(src *notification.Source, snap settings.Snapshot) {
	if snap.CustomTitle != "" {
		if strings.TrimSpace(snap.CustomTitle) == "" {
			src.Title = src.Subtitle
			src.Subtitle = ""
		} else {
			src.Title = snap.CustomTitle
		}
	}

	switch {
	case src.Subtitle == "":
		if sub, rest, ok := splitSubtitle(src.Text); ok {
			src.Subtitle, src.Text = sub, rest
		}
	case len([]rune(src.Subtitle)) > settings.TitleLimit:
		src.Text = src.Subtitle + "\n" + src.Text
		src.Subtitle = ""
	}

	if strings.TrimSpace(src.Title) == strings.TrimSpace(src.Subtitle) {
		src.Subtitle = ""
	}
}

func (f *Forwarder) regexGate(src *notification.Source, snap settings.Snapshot) (string, bool) {
	combined := src.Title + "\n" + src.Subtitle + "\n" + src.Text
	if include := f.compile(snap.IncludedRegex); len(include) > 0 && !matchesAny(include, combined) {
		return ReasonNotIncluded, true
	}
	if matchesAny(f.compile(snap.ExcludedRegex), combined) {
		return ReasonExcluded, true
	}
	return "", false
}

// compile returns the valid expressions of patterns. Invalid ones are logged once and skipped.
func (f *Forwarder) compile(patterns []string) []*regexp.Regexp {
	if len(patterns) == 0 {
		return nil
	}
	f.reMu.Lock()
	defer f.reMu.Unlock()
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, ok := f.regexes[p]; ok {
			out = append(out, re)
			continue
		}
		if f.badRe[p] {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			f.badRe[p] = true
			f.d.Log.Warn("ignoring invalid regex", logx.String("pattern", p), logx.Err(err))
			continue
		}
		f.regexes[p] = re
		out = append(out, re)
	}
	return out
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (f *Forwarder) recordHistory(ctx context.Context, src *notification.Source, snap settings.Snapshot, textLimit int) {
	if f.d.History == nil || !snap.Global.HistoryEnabled || !snap.SaveToHistory || src.HistoryDisabled || src.NoHistory {
		return
	}
	if !f.d.Registry.CanAdmit(src, snap.GroupNotifications, snap.SendIdentical) {
		return
	}
	at := src.PostedAt
	if at.IsZero() {
		at = f.d.Now()
	}
	entry := storage.HistoryEntry{
		At:       at,
		App:      src.Key.Package,
		Title:    prepare(src.Title, settings.TitleLimit),
		Subtitle: prepare(src.Subtitle, settings.TitleLimit),
		Text:     prepare(src.Text, textLimit),
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	f.historyWG.Add(1)
	go func() {
		defer f.historyWG.Done()
		defer cancel()
		if err := f.d.History.AppendHistory(hctx, entry); err != nil {
			f.d.Log.Warn("history write failed", logx.String("app", entry.App), logx.Err(err))
		}
	}()
}

func (f *Forwarder) killSwitches(src *notification.Source, snap settings.Snapshot) (string, bool) {
	g := snap.Global
	switch {
	case g.NotificationsDisabled:
		return ReasonDisabled, true
	case g.NoNotifyWhenSilent && f.d.Host != nil && f.d.Host.RingerSilent():
		return ReasonRingerSilent, true
	case snap.RespectInterruptFilter && f.d.Host != nil && f.d.Host.InterruptFiltered(src.Key):
		return ReasonInterruptFilter, true
	case snap.QuietHours.Contains(minuteOfDay(f.d.Now())):
		return ReasonQuietHours, true
	case g.NoNotificationsWithoutDevice && (f.d.Link == nil || !f.d.Link.Connected()):
		return ReasonNoDevice, true
	case snap.DisableWhenScreenOn && f.d.Host != nil && f.d.Host.ScreenOn():
		return ReasonScreenOn, true
	case !f.d.Limiter.ShouldSendByInterval(src.Key.Package, snap.MinNotificationInterval):
		return ReasonInterval, true
	}
	return "", false
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

func (f *Forwarder) drop(log logx.Logger, app, reason string) Outcome {
	log.Debug("notification dropped", logx.String("reason", reason))
	f.publish(eventbus.RelayDropped, app, 0, reason, "")
	return Outcome{Status: StatusDropped, Reason: reason}
}

func (f *Forwarder) publish(typ, app string, id int32, reason, mode string) {
	f.d.Bus.Publish(eventbus.Event{Type: typ, Data: eventbus.RelayEvent{App: app, ID: id, Reason: reason, Mode: mode}})
}
