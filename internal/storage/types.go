package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines history log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// HistoryEntry is one delivered notification as shown in the phone-side history.
// Title and subtitle are already cut to the title limit, text to the app's text limit.
type HistoryEntry struct {
	At       time.Time `json:"at"`
	App      string    `json:"app"`
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle,omitempty"`
	Text     string    `json:"text,omitempty"`
}
