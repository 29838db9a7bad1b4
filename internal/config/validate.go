package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DriverMQTT = "mqtt"
	DriverLoop = "loop"
)

// Validate checks cross-field rules the decoder cannot. All problems are joined
// into one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch d := TransportDriver(cfg); d {
	case DriverMQTT:
		m := cfg.Transport.MQTT
		if strings.TrimSpace(m.Broker) == "" {
			add(errors.New("transport.mqtt.broker: required"))
		}
		if m.QoS < 0 || m.QoS > 2 {
			add(fmt.Errorf("transport.mqtt.qos: must be 0, 1 or 2, got %d", m.QoS))
		}
		_, err := ParseDuration("transport.mqtt.connect_timeout", m.ConnectTimeout)
		add(err)
		_, err = ParseDuration("transport.mqtt.keep_alive", m.KeepAlive)
		add(err)
		_, err = ParseDuration("transport.mqtt.publish_timeout", m.PublishTimeout)
		add(err)
	case DriverLoop:
		if cfg.Transport.Loop.PacketsPerSecond < 0 {
			add(errors.New("transport.loop.packets_per_second: must be >= 0"))
		}
	default:
		add(fmt.Errorf("transport.driver: unknown driver %q", d))
	}

	for uuid, mode := range cfg.Relay.WatchAppModes {
		if mode < 0 || mode > 2 {
			add(fmt.Errorf("relay.watch_app_modes[%s]: mode must be 0, 1 or 2", uuid))
		}
	}

	if cfg.Registry.Capacity < 0 {
		add(errors.New("registry.capacity: must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDuration("storage.busy_timeout", s.BusyTimeout)
		add(err)
		_, err = ParseDuration("storage.retention", s.Retention)
		add(err)
		if spec := strings.TrimSpace(s.RetentionSchedule); spec != "" {
			p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			if _, err := p.Parse(spec); err != nil {
				add(fmt.Errorf("storage.retention_schedule: %w", err))
			}
		}
		if tz := strings.TrimSpace(s.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("storage.timezone: %w", err))
			}
		}
	}

	if d := cfg.Debug; d.Enabled {
		addr := strings.TrimSpace(d.Addr)
		if addr == "" {
			addr = "127.0.0.1:6060"
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add(fmt.Errorf("debug.addr: %w", err))
		} else if !isLoopbackHost(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
			add(errors.New("debug.addr: non-loopback bind requires token or allow_insecure"))
		}
		for field, raw := range map[string]string{
			"debug.read_timeout":  d.ReadTimeout,
			"debug.write_timeout": d.WriteTimeout,
			"debug.idle_timeout":  d.IdleTimeout,
		} {
			_, err := ParseDuration(field, raw)
			add(err)
		}
	}

	return errors.Join(errs...)
}

// TransportDriver returns the normalized driver name; empty means mqtt.
func TransportDriver(cfg *Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
	if d == "" {
		return DriverMQTT
	}
	return d
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
