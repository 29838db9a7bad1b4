package settings

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "wristrelay/pkg/logx"
)

// AppMode selects how notifications are shown while a given watch app is in the foreground.
type AppMode int

const (
	ModeChunked AppMode = 0 // relay's own watch app protocol
	ModeNative  AppMode = 1 // the watch's built-in notification UI
	ModeNone    AppMode = 2 // suppressed
)

// Config is the settings section of the relay config, already decoded.
//
// Defaults and Apps hold raw values (bools, numbers, strings, lists) keyed by Key name.
// Per-app values override Defaults, which override built-in defaults.
type Config struct {
	NotificationsDisabled        bool
	NoNotifyWhenSilent           bool
	NoNotificationsWithoutDevice bool
	ShowMenuInstantly            bool
	HistoryEnabled               bool
	WatchAppModes                map[string]int

	Defaults map[string]any
	Apps     map[string]map[string]any
}

// Global holds process-wide switches.
type Global struct {
	NotificationsDisabled        bool
	NoNotifyWhenSilent           bool
	NoNotificationsWithoutDevice bool
	ShowMenuInstantly            bool
	HistoryEnabled               bool
	WatchAppModes                map[uuid.UUID]AppMode
}

// AppModeFor returns the mode configured for a watch app, ModeChunked if none.
func (g Global) AppModeFor(app uuid.UUID) AppMode {
	if m, ok := g.WatchAppModes[app]; ok {
		return m
	}
	return ModeChunked
}

// QuietHours is a minutes-since-midnight window.
type QuietHours struct {
	Enabled bool
	Start   int
	End     int
}

// Contains reports whether minute-of-day now falls in the window. Bounds are inclusive;
// a window with End < Start wraps past midnight; Start == End never matches.
func (q QuietHours) Contains(now int) bool {
	if !q.Enabled {
		return false
	}
	switch {
	case q.End > q.Start:
		return now >= q.Start && now <= q.End
	case q.End < q.Start:
		return now >= q.Start || now <= q.End
	default:
		return false
	}
}

// Snapshot is every option the pipeline and transfer need for one notification,
// resolved once so later stages never observe a concurrent reload.
type Snapshot struct {
	App    string
	Global Global

	CustomTitle            string
	IncludedRegex          []string
	ExcludedRegex          []string
	SaveToHistory          bool
	SendBlank              bool
	DisableWhenScreenOn    bool
	QuietHours             QuietHours
	RespectInterruptFilter bool

	MinNotificationInterval time.Duration
	MinVibrationInterval    time.Duration

	StatusbarColor     uint32
	GroupNotifications bool
	SendIdentical      bool
	HideText           bool

	PeriodicVibration  int // milliseconds, <= MaxPeriodicVibration
	SwitchToMostRecent bool
	SelectPressAction  int
	SelectHoldAction   int
	ShakeAction        int
	TitleFont          int
	SubtitleFont       int
	BodyFont           int
	TextLimit          int
	VibrationPattern   []byte
}

// Store resolves per-app snapshots from the current config. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	log      logx.Logger
	global   Global
	defaults map[string]any
	apps     map[string]map[string]any
}

func NewStore(cfg Config, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the config; snapshots resolved earlier are unaffected.
func (s *Store) Apply(cfg Config) {
	g := Global{
		NotificationsDisabled:        cfg.NotificationsDisabled,
		NoNotifyWhenSilent:           cfg.NoNotifyWhenSilent,
		NoNotificationsWithoutDevice: cfg.NoNotificationsWithoutDevice,
		ShowMenuInstantly:            cfg.ShowMenuInstantly,
		HistoryEnabled:               cfg.HistoryEnabled,
		WatchAppModes:                map[uuid.UUID]AppMode{},
	}
	for raw, mode := range cfg.WatchAppModes {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			s.log.Warn("ignoring watch app mode with invalid uuid", logx.String("uuid", raw), logx.Err(err))
			continue
		}
		if mode < int(ModeChunked) || mode > int(ModeNone) {
			s.log.Warn("ignoring unknown watch app mode", logx.String("uuid", raw), logx.Int("mode", mode))
			continue
		}
		g.WatchAppModes[id] = AppMode(mode)
	}

	apps := make(map[string]map[string]any, len(cfg.Apps))
	for app, vals := range cfg.Apps {
		apps[strings.TrimSpace(app)] = vals
	}

	s.mu.Lock()
	s.global = g
	s.defaults = cfg.Defaults
	s.apps = apps
	s.mu.Unlock()
}

func (s *Store) Global() Global {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// Resolve builds the snapshot for app. Malformed values fall back to their defaults.
func (s *Store) Resolve(app string) Snapshot {
	s.mu.RLock()
	r := resolver{app: app, over: s.apps[app], defaults: s.defaults, log: s.log}
	g := s.global
	s.mu.RUnlock()

	snap := Snapshot{
		App:                    app,
		Global:                 g,
		CustomTitle:            r.str(CustomTitle),
		IncludedRegex:          asStringList(r.raw(IncludedRegex)),
		ExcludedRegex:          asStringList(r.raw(ExcludedRegex)),
		SaveToHistory:          r.boolean(SaveToHistory),
		SendBlank:              r.boolean(SendBlank),
		DisableWhenScreenOn:    r.boolean(DisableWhenScreenOn),
		RespectInterruptFilter: r.boolean(RespectInterruptFilter),
		GroupNotifications:     r.boolean(UseGroupNotifications),
		SendIdentical:          r.boolean(SendIdentical),
		HideText:               r.boolean(HideNotificationText),
		SwitchToMostRecent:     r.boolean(SwitchToMostRecent),
		SelectPressAction:      r.integer(SelectPressAction),
		SelectHoldAction:       r.integer(SelectHoldAction),
		ShakeAction:            r.integer(ShakeAction),
		TitleFont:              r.integer(TitleFont),
		SubtitleFont:           r.integer(SubtitleFont),
		BodyFont:               r.integer(BodyFont),
		TextLimit:              ParseTextLimit(r.str(MaximumTextLength)),
	}

	snap.QuietHours = QuietHours{
		Enabled: r.boolean(QuietTimeEnabled),
		Start:   r.clock(QuietTimeStart),
		End:     r.clock(QuietTimeEnd),
	}
	snap.MinNotificationInterval = r.interval(MinNotificationInterval)
	snap.MinVibrationInterval = r.interval(MinVibrationInterval)

	if n, err := asInt(r.raw(PeriodicVibration)); err == nil && n > 0 {
		snap.PeriodicVibration = min(n, MaxPeriodicVibration)
	} else if err != nil {
		r.malformed(PeriodicVibration, err)
	}

	if c, err := ParseColor(r.raw(StatusbarColor)); err == nil {
		snap.StatusbarColor = c
	} else {
		r.malformed(StatusbarColor, err)
	}

	pattern, err := ParseVibrationPattern(r.str(VibrationPattern))
	if err != nil {
		r.malformed(VibrationPattern, err)
		pattern, _ = ParseVibrationPattern(asString(defaults[VibrationPattern]))
	}
	snap.VibrationPattern = pattern
	return snap
}

type resolver struct {
	app      string
	over     map[string]any
	defaults map[string]any
	log      logx.Logger
}

func (r resolver) raw(k Key) any {
	if v, ok := r.over[string(k)]; ok {
		return v
	}
	if v, ok := r.defaults[string(k)]; ok {
		return v
	}
	return defaults[k]
}

func (r resolver) malformed(k Key, err error) {
	r.log.Debug("malformed setting; using default", logx.String("app", r.app), logx.String("key", string(k)), logx.Err(err))
}

func (r resolver) str(k Key) string { return asString(r.raw(k)) }

func (r resolver) boolean(k Key) bool {
	v, err := asBool(r.raw(k))
	if err != nil {
		r.malformed(k, err)
		def, _ := asBool(defaults[k])
		return def
	}
	return v
}

func (r resolver) integer(k Key) int {
	v, err := asInt(r.raw(k))
	if err != nil {
		r.malformed(k, err)
		def, _ := asInt(defaults[k])
		return def
	}
	return v
}

func (r resolver) interval(k Key) time.Duration {
	d, err := ParseInterval(r.str(k))
	if err != nil {
		r.malformed(k, err)
		return 0
	}
	return d
}

func (r resolver) clock(k Key) int {
	m, err := ParseClock(r.str(k))
	if err != nil {
		r.malformed(k, err)
		return 0
	}
	return m
}
