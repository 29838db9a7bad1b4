package app

import (
	"fmt"
	"strings"

	"wristrelay/internal/config"
	"wristrelay/internal/observability/debug"
	"wristrelay/internal/storage"
	"wristrelay/internal/transport"
	"wristrelay/internal/transport/loop"
	"wristrelay/internal/transport/mqtt"
	logx "wristrelay/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// StorageConfig maps the storage section. enabled is false when no driver is set.
func StorageConfig(cfg *config.Config) (sc storage.Config, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDuration("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./data/history.jsonl"
		default:
			path = "./data/wristrelay.db"
		}
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func retentionConfig(cfg *config.Config) (storage.RetentionConfig, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.RetentionConfig{}, nil
	}
	keep, err := config.ParseDuration("storage.retention", cfg.Storage.Retention)
	if err != nil {
		return storage.RetentionConfig{}, err
	}
	return storage.RetentionConfig{
		Keep:     keep,
		Schedule: cfg.Storage.RetentionSchedule,
		TZ:       cfg.Storage.Timezone,
	}, nil
}

func debugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	out := debug.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               d.PprofPrefix,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	if out.Addr == "" {
		out.Addr = debug.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDuration("debug.read_timeout", d.ReadTimeout); err != nil {
		return debug.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDuration("debug.write_timeout", d.WriteTimeout); err != nil {
		return debug.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDuration("debug.idle_timeout", d.IdleTimeout); err != nil {
		return debug.Config{}, err
	}
	return out, nil
}

func loopConfig(cfg *config.Config) loop.Config {
	l := cfg.Transport.Loop
	return loop.Config{
		Platform:         transport.Platform(strings.ToLower(strings.TrimSpace(l.Platform))),
		Firmware:         transport.ParseFirmware(l.Firmware),
		PacketsPerSecond: l.PacketsPerSecond,
		Burst:            l.Burst,
		Disconnected:     l.Disconnected,
	}
}

func mqttConfig(cfg *config.Config) (mqtt.Config, error) {
	m := cfg.Transport.MQTT
	out := mqtt.Config{
		Broker:   strings.TrimSpace(m.Broker),
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Prefix:   m.Prefix,
		QoS:      byte(m.QoS),
	}
	var err error
	if out.ConnectTimeout, err = config.ParseDuration("transport.mqtt.connect_timeout", m.ConnectTimeout); err != nil {
		return mqtt.Config{}, err
	}
	if out.KeepAlive, err = config.ParseDuration("transport.mqtt.keep_alive", m.KeepAlive); err != nil {
		return mqtt.Config{}, err
	}
	if out.PublishTimeout, err = config.ParseDuration("transport.mqtt.publish_timeout", m.PublishTimeout); err != nil {
		return mqtt.Config{}, err
	}
	return out, nil
}

// buildDriver constructs the configured transport. forceLoop overrides the config.
func buildDriver(cfg *config.Config, forceLoop bool, log logx.Logger) (transport.Driver, error) {
	driver := config.TransportDriver(cfg)
	if forceLoop {
		driver = config.DriverLoop
	}
	switch driver {
	case config.DriverLoop:
		return loop.New(loopConfig(cfg), log), nil
	case config.DriverMQTT:
		mc, err := mqttConfig(cfg)
		if err != nil {
			return nil, err
		}
		return mqtt.New(mc, log)
	default:
		return nil, fmt.Errorf("unknown transport driver: %s", driver)
	}
}
