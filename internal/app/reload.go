package app

import (
	"context"
	"slices"
	"strings"

	"wristrelay/internal/config"
	"wristrelay/internal/eventbus"
	logx "wristrelay/pkg/logx"
	"wristrelay/pkg/systemd"
)

// Sections that are only read at startup.
var restartSections = []string{"transport", "registry", "storage"}

// reloadLoop applies configs published by the manager. Bursts are coalesced so only
// the newest config is applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			if cfg == nil {
				continue
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if _, err := systemd.Reloading(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	for _, s := range restartSections {
		if slices.Contains(sections, s) {
			a.log.Warn(s+" config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if a.logs != nil {
		a.logs.Apply(logConfig(cfg))
	}
	a.settings.Apply(cfg.Relay.Settings())

	if rc, err := retentionConfig(cfg); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else if err := a.retention.Apply(rc); err != nil {
		a.log.Warn("retention reconfigure failed", logx.Err(err))
	}
	if dc, err := debugConfig(cfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if _, err := systemd.Ready("relaying"); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
}
