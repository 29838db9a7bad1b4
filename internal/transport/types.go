// Package transport connects the relay to the phone-side listener and to the watch.
//
// A driver is both a Link (outbound packets to the watch, device state) and a source
// of inbound Updates (notifications and action presses).
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wristrelay/internal/notification"
	"wristrelay/internal/wire"
)

type UpdateKind string

const (
	UpdateNotification UpdateKind = "notification"
	UpdateAction       UpdateKind = "action"
	// UpdateOpened means the companion watch app was (re)opened and lost its receive buffer.
	// Drivers reset their pump before emitting it.
	UpdateOpened UpdateKind = "opened"
	// UpdateRemoved means the phone withdrew the notification identified by Removed.
	UpdateRemoved UpdateKind = "removed"
)

type Update struct {
	Kind         UpdateKind
	Notification *notification.Source
	Action       *ActionRequest
	Removed      *notification.Key
}

// ActionRequest is a press on entry Index of the action menu of notification ID.
type ActionRequest struct {
	ID    int32 `json:"id"`
	Index int   `json:"index"`
}

// CompanionApp is the watch app that renders chunked transfers.
var CompanionApp = uuid.MustParse("0a7b4ab5-5e8c-4a5e-9c3e-3f1d2b6a8c41")

type Platform string

const (
	PlatformUnknown Platform = ""
	PlatformAplite  Platform = "aplite"
	PlatformBasalt  Platform = "basalt"
	PlatformChalk   Platform = "chalk"
	PlatformDiorite Platform = "diorite"
	PlatformEmery   Platform = "emery"
)

// SupportsColor reports whether the platform renders 8-bit color.
func (p Platform) SupportsColor() bool {
	switch p {
	case PlatformBasalt, PlatformChalk, PlatformEmery:
		return true
	}
	return false
}

type Firmware struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// ParseFirmware accepts "v3.12", "2.9" or "4". Unparseable input yields the zero version.
func ParseFirmware(s string) Firmware {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	majorStr, rest, _ := strings.Cut(s, ".")
	minorStr, _, _ := strings.Cut(rest, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return Firmware{}
	}
	minor, _ := strconv.Atoi(minorStr)
	return Firmware{Major: major, Minor: minor}
}

// Newer reports whether f is strictly newer than major.minor.
func (f Firmware) Newer(major, minor int) bool {
	return f.Major > major || (f.Major == major && f.Minor > minor)
}

func (f Firmware) String() string { return fmt.Sprintf("%d.%d", f.Major, f.Minor) }

// Link is the outbound side of a driver.
type Link interface {
	// Send transmits one packet. Flow control is the Pump's job; Send must not block on acks.
	Send(d wire.Dictionary) error
	// RequestNext asks the pump to pull the next packet when the link is free.
	RequestNext()
	Connected() bool
	Platform() Platform
	Firmware() Firmware
	// ForegroundApp is the watch app currently on screen, uuid.Nil if unknown.
	ForegroundApp() uuid.UUID
	OpenCompanionApp() error
}

// NativeNotification is the payload for the watch's built-in notification UI.
type NativeNotification struct {
	ID       int32    `json:"id"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Body     string   `json:"body"`
	Color    uint32   `json:"color,omitempty"`
	Actions  []string `json:"actions,omitempty"`
}

// NativeSender posts notifications through the watch firmware instead of the relay's app.
type NativeSender interface {
	SendStructured(n NativeNotification) error
	SendBasic(title, body string) error
}

// Dismisser retracts notifications on the phone side.
type Dismisser interface {
	Dismiss(key notification.Key) error
	// RetractUpward cancels a pending dismiss-upward chain for key.
	RetractUpward(key notification.Key) error
}

// CustomAction is a custom action press handed back to the phone for execution.
type CustomAction struct {
	Key     notification.Key `json:"key"`
	Label   string           `json:"label"`
	Payload string           `json:"payload,omitempty"`
}

// ActionInvoker runs custom actions on the phone side.
type ActionInvoker interface {
	InvokeAction(a CustomAction) error
}

// Driver is a complete transport: the relay reads Updates from it and writes through it.
type Driver interface {
	Link
	NativeSender
	Dismisser
	HostEnvironment
	ActionInvoker

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	Pump() *Pump
}
