// Package notification holds the data model shared by the forwarding pipeline,
// the dedup registry and the transfer state machine.
package notification

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"wristrelay/internal/settings"
)

// Key identifies a notification upstream. Package is the source app and doubles as
// the rate limiter and settings key.
type Key struct {
	Package string `json:"package"`
	Tag     string `json:"tag,omitempty"`
	ID      int    `json:"id"`
}

func (k Key) String() string { return fmt.Sprintf("%s|%s|%d", k.Package, k.Tag, k.ID) }

type GroupRole int

const (
	GroupNone GroupRole = iota
	GroupSummary
	GroupMember
)

func (r GroupRole) String() string {
	switch r {
	case GroupSummary:
		return "summary"
	case GroupMember:
		return "member"
	default:
		return "none"
	}
}

type ActionKind int

const (
	ActionCustom ActionKind = iota
	ActionReveal
	ActionDismiss
)

// Action is a user-triggerable command shown in the watch's action menu.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
	// Payload is opaque to the relay; custom actions hand it back to the phone side.
	Payload string `json:"payload,omitempty"`
	// Hidden is the notification uncovered by a reveal action.
	Hidden *Outbound `json:"-"`
}

// Source is a notification as produced by the listener. The pipeline rewrites Title,
// Subtitle and Text once during normalization; everything else is read-only.
type Source struct {
	Key      Key       `json:"key"`
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle,omitempty"`
	Text     string    `json:"text,omitempty"`
	Color    uint32    `json:"color,omitempty"`
	Group    GroupRole `json:"group,omitempty"`
	Actions  []Action  `json:"actions,omitempty"`
	PostedAt time.Time `json:"posted_at"`

	List                 bool `json:"list,omitempty"`
	HistoryDisabled      bool `json:"history_disabled,omitempty"`
	HidingTextDisallowed bool `json:"hiding_text_disallowed,omitempty"`
	NoHistory            bool `json:"no_history,omitempty"`
	ForceSwitch          bool `json:"force_switch,omitempty"`
	ForceActionMenu      bool `json:"force_action_menu,omitempty"`
	ScrollToEnd          bool `json:"scroll_to_end,omitempty"`
}

// HasIdenticalContent compares the visible content of two notifications.
func (s *Source) HasIdenticalContent(o *Source) bool {
	if s == nil || o == nil {
		return false
	}
	return strings.TrimSpace(s.Title) == strings.TrimSpace(o.Title) &&
		strings.TrimSpace(s.Subtitle) == strings.TrimSpace(o.Subtitle) &&
		strings.TrimSpace(s.Text) == strings.TrimSpace(o.Text)
}

// ContentHash is a cheap fingerprint consistent with HasIdenticalContent.
func (s *Source) ContentHash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(s.Title)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.TrimSpace(s.Subtitle)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.TrimSpace(s.Text)))
	return h.Sum64()
}

type TransferMode int

const (
	ModeChunked TransferMode = iota
	ModeNative
)

// Outbound is the relay's working unit for one accepted notification.
//
// It is owned by the transfer machine while queued or in flight and is shared
// read-mostly through the registry once dispatched.
type Outbound struct {
	ID       int32
	Source   *Source
	Settings settings.Snapshot

	TextChunks []string
	// NextChunk is -1 before the initial packet and len(TextChunks) once every chunk is out.
	NextChunk int
	Vibrated  bool
	Mode      TransferMode
}

func NewOutbound(src *Source, snap settings.Snapshot) *Outbound {
	return &Outbound{Source: src, Settings: snap, NextChunk: -1}
}

// App returns the source app key.
func (o *Outbound) App() string {
	if o == nil || o.Source == nil {
		return ""
	}
	return o.Source.Key.Package
}

// IsList reports whether the notification is a list/menu transfer.
func (o *Outbound) IsList() bool { return o != nil && o.Source != nil && o.Source.List }
