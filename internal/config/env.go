package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvOverrides are values read from the environment (and an optional .env file) that
// take precedence over the config file. Secrets belong here rather than in the file.
type EnvOverrides struct {
	MQTTBroker   string `env:"WRISTRELAY_MQTT_BROKER"`
	MQTTUsername string `env:"WRISTRELAY_MQTT_USERNAME"`
	MQTTPassword string `env:"WRISTRELAY_MQTT_PASSWORD"`
	DebugToken   string `env:"WRISTRELAY_DEBUG_TOKEN"`
	LogLevel     string `env:"WRISTRELAY_LOG_LEVEL"`
	StoragePath  string `env:"WRISTRELAY_STORAGE_PATH"`
}

// LoadEnv reads dotenv files (missing files are fine) and then the process environment.
// Variables already set in the environment win over dotenv values.
func LoadEnv(dotenvFiles ...string) (EnvOverrides, error) {
	for _, f := range dotenvFiles {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return EnvOverrides{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply copies every non-empty override into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Transport.MQTT.Broker, o.MQTTBroker)
	set(&cfg.Transport.MQTT.Username, o.MQTTUsername)
	set(&cfg.Transport.MQTT.Password, o.MQTTPassword)
	set(&cfg.Debug.Token, o.DebugToken)
	set(&cfg.Logging.Level, o.LogLevel)
	if strings.TrimSpace(o.StoragePath) != "" && cfg.Storage != nil {
		cfg.Storage.Path = strings.TrimSpace(o.StoragePath)
	}
}
