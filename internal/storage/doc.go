// Package storage persists the notification history shown on the phone side.
//
// Two backends share the Store interface:
//   - file: append-only JSON Lines, compacted on prune
//   - sqlite: a single table in a SQLite database (pure Go driver)
package storage
