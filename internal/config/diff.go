package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wristrelay/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and returns
// log fields describing the new values. Secrets are reported only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ot, nt := oldCfg.Transport, newCfg.Transport
	if !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", TransportDriver(newCfg)),
			logx.String("transport.mqtt.broker", strings.TrimSpace(nt.MQTT.Broker)),
			logx.String("transport.mqtt.prefix", strings.TrimSpace(nt.MQTT.Prefix)),
			logx.Bool("transport.mqtt.password_set", nt.MQTT.Password != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		s := newCfg.Relay.Settings()
		attrs = append(attrs,
			logx.Bool("relay.notifications_disabled", s.NotificationsDisabled),
			logx.Int("relay.app_overrides", len(s.Apps)),
			logx.Int("relay.watch_app_modes", len(s.WatchAppModes)),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs, logx.Int("registry.capacity", newCfg.Registry.Capacity))
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(newS.Retention)),
		)
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
