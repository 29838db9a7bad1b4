package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "wristrelay/pkg/logx"
)

const (
	DefaultRetentionSchedule = "@daily"
	pruneTimeout             = 30 * time.Second
)

// RetentionConfig controls history pruning. Keep <= 0 disables it.
type RetentionConfig struct {
	Keep     time.Duration
	Schedule string
	TZ       string
}

// Retention prunes old history on a cron schedule.
type Retention struct {
	store  Store
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu  sync.Mutex
	cfg RetentionConfig
	c   *cron.Cron
}

func NewRetention(store Store, log logx.Logger) *Retention {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{
		store:  store,
		log:    log.With(logx.String("comp", "retention")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Apply validates cfg and (re)starts the schedule. A disabled config stops it.
func (r *Retention) Apply(cfg RetentionConfig) error {
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultRetentionSchedule
	}
	if _, err := r.parser.Parse(spec); err != nil {
		return fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.TZ); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("retention tz %q: %w", tz, err)
		}
		loc = l
	}
	cfg.Schedule = spec

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.cfg = cfg
	if r.store == nil || cfg.Keep <= 0 {
		r.log.Debug("history retention disabled")
		return nil
	}
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	if _, err := r.c.AddFunc(spec, func() { _, _ = r.RunOnce(context.Background()) }); err != nil {
		r.c = nil
		return err
	}
	r.c.Start()
	r.log.Info("history retention scheduled", logx.String("schedule", spec), logx.Duration("keep", cfg.Keep))
	return nil
}

// RunOnce prunes entries older than the configured keep window.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	keep := r.cfg.Keep
	r.mu.Unlock()
	if r.store == nil || keep <= 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	n, err := r.store.PruneHistory(ctx, r.now().Add(-keep))
	if err != nil {
		r.log.Warn("history prune failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		r.log.Info("history pruned", logx.Int("removed", n))
	}
	return n, nil
}

func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Retention) stopLocked() {
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
	}
}
