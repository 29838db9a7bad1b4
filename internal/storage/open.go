package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "wristrelay/pkg/logx"
)

// Store is the history API used by the pipeline, the retention job and the CLI.
type Store interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	// ListHistory returns up to limit entries, newest first. limit <= 0 means all.
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	// PruneHistory deletes entries older than before and reports how many were removed.
	PruneHistory(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
