package config

import (
	"wristrelay/internal/settings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Relay     RelayConfig     `json:"relay"`
	Registry  RegistryConfig  `json:"registry,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TransportConfig selects the driver that talks to the phone and the watch.
//
// Driver values:
//   - "mqtt": bridge through an MQTT broker (default)
//   - "loop": in-process link that records packets; for dry runs
type TransportConfig struct {
	Driver string     `json:"driver"`
	MQTT   MQTTConfig `json:"mqtt,omitempty"`
	Loop   LoopConfig `json:"loop,omitempty"`
}

// MQTTConfig configures the broker bridge. Topics live under Prefix (default "wristrelay").
//
// Durations are Go duration strings (e.g. "5s").
type MQTTConfig struct {
	Broker         string `json:"broker"`
	ClientID       string `json:"client_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"` // prefer WRISTRELAY_MQTT_PASSWORD
	Prefix         string `json:"prefix,omitempty"`
	QoS            int    `json:"qos,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	KeepAlive      string `json:"keep_alive,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

// LoopConfig describes the simulated watch behind the loop driver.
type LoopConfig struct {
	Platform string `json:"platform,omitempty"` // default "basalt"
	Firmware string `json:"firmware,omitempty"` // default "4.3"
	// PacketsPerSecond paces acks; 0 acks immediately.
	PacketsPerSecond float64 `json:"packets_per_second,omitempty"`
	Burst            int     `json:"burst,omitempty"`
	Disconnected     bool    `json:"disconnected,omitempty"`
}

// RelayConfig holds global switches and per-app settings.
//
// Defaults and Apps use the per-app option names (e.g. "quiet_time_start",
// "vibration_pattern"); an app's values override Defaults.
//
// ShowMenuInstantly and HistoryEnabled are pointers so an omitted key means true.
type RelayConfig struct {
	NotificationsDisabled        bool                      `json:"notifications_disabled,omitempty"`
	NoNotifyWhenSilent           bool                      `json:"no_notify_when_silent,omitempty"`
	NoNotificationsWithoutDevice bool                      `json:"no_notifications_without_device,omitempty"`
	ShowMenuInstantly            *bool                     `json:"show_menu_instantly,omitempty"`
	HistoryEnabled               *bool                     `json:"history_enabled,omitempty"`
	WatchAppModes                map[string]int            `json:"watch_app_modes,omitempty"`
	Defaults                     map[string]any            `json:"defaults,omitempty"`
	Apps                         map[string]map[string]any `json:"apps,omitempty"`
}

// Settings converts the section for the settings store.
func (r RelayConfig) Settings() settings.Config {
	return settings.Config{
		NotificationsDisabled:        r.NotificationsDisabled,
		NoNotifyWhenSilent:           r.NoNotifyWhenSilent,
		NoNotificationsWithoutDevice: r.NoNotificationsWithoutDevice,
		ShowMenuInstantly:            boolOr(r.ShowMenuInstantly, true),
		HistoryEnabled:               boolOr(r.HistoryEnabled, true),
		WatchAppModes:                r.WatchAppModes,
		Defaults:                     r.Defaults,
		Apps:                         r.Apps,
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// RegistryConfig bounds the sent-notification registry. 0 means the default (512).
type RegistryConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// StorageConfig controls history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wristrelay.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention drops history older than this Go duration; empty keeps everything.
	Retention         string `json:"retention,omitempty"`
	RetentionSchedule string `json:"retention_schedule,omitempty"` // cron spec, default "@daily"
	Timezone          string `json:"timezone,omitempty"`
}

// DebugConfig controls the debug HTTP server (pprof, /metrics, /healthz, /status).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
