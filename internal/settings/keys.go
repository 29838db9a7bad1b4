package settings

// Key names a per-app option. App sections in the config use these names verbatim.
type Key string

const (
	CustomTitle             Key = "custom_title"
	IncludedRegex           Key = "included_regex"
	ExcludedRegex           Key = "excluded_regex"
	SaveToHistory           Key = "save_to_history"
	SendBlank               Key = "send_blank_notifications"
	DisableWhenScreenOn     Key = "disable_notify_screen_on"
	QuietTimeEnabled        Key = "quiet_time_enabled"
	QuietTimeStart          Key = "quiet_time_start"
	QuietTimeEnd            Key = "quiet_time_end"
	RespectInterruptFilter  Key = "respect_interrupt_filter"
	MinNotificationInterval Key = "minimum_notification_interval"
	MinVibrationInterval    Key = "minimum_vibration_interval"
	StatusbarColor          Key = "statusbar_color"
	UseGroupNotifications   Key = "use_group_notifications"
	SendIdentical           Key = "send_identical_notifications"
	HideNotificationText    Key = "hide_notification_text"
	PeriodicVibration       Key = "periodic_vibration"
	SwitchToMostRecent      Key = "switch_to_most_recent"
	SelectPressAction       Key = "select_press_action"
	SelectHoldAction        Key = "select_hold_action"
	ShakeAction             Key = "shake_action"
	TitleFont               Key = "title_font"
	SubtitleFont            Key = "subtitle_font"
	BodyFont                Key = "body_font"
	MaximumTextLength       Key = "maximum_text_length"
	VibrationPattern        Key = "vibration_pattern"
)

const (
	// TextLimit is the hard ceiling for body text.
	TextLimit = 2000
	// TitleLimit bounds title and subtitle, and what counts as a subtitle line.
	TitleLimit = 30
	// MinTextLimit leaves room for the ellipsis marker.
	MinTextLimit = 4
	// MaxPeriodicVibration is the ceiling of the 16-bit periodic vibration field.
	MaxPeriodicVibration = 30000
)

// Select/shake action codes understood by the watch app.
const (
	ActionNone       = 0
	ActionOpenRecent = 1
	ActionOpenMenu   = 2
)

// defaults mirror the stock watch app configuration.
var defaults = map[Key]any{
	CustomTitle:             "",
	IncludedRegex:           []any{},
	ExcludedRegex:           []any{},
	SaveToHistory:           true,
	SendBlank:               false,
	DisableWhenScreenOn:     false,
	QuietTimeEnabled:        false,
	QuietTimeStart:          "00:00",
	QuietTimeEnd:            "00:00",
	RespectInterruptFilter:  false,
	MinNotificationInterval: "0",
	MinVibrationInterval:    "0",
	StatusbarColor:          0,
	UseGroupNotifications:   false,
	SendIdentical:           false,
	HideNotificationText:    false,
	PeriodicVibration:       "0",
	SwitchToMostRecent:      false,
	SelectPressAction:       ActionNone,
	SelectHoldAction:        ActionOpenMenu,
	ShakeAction:             ActionOpenRecent,
	TitleFont:               6,
	SubtitleFont:            5,
	BodyFont:                4,
	MaximumTextLength:       "2000",
	VibrationPattern:        "500",
}
