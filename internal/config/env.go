package config

import (
	"errors"
	"os"
	"strings"
)

// Environment overrides, read once at startup. They win over file values so
// secrets can stay out of the config file entirely.
const (
	EnvToken      = "RELAYBOT_TOKEN"
	EnvAPISecret  = "RELAYBOT_API_SECRET"
	EnvListenAddr = "RELAYBOT_LISTEN_ADDR"
)

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		cfg.API.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListenAddr)); v != "" {
		cfg.API.Addr = v
	}
}

// Validate checks the fields the process cannot run without. Everything else
// has a usable default.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or set " + EnvToken + ")")
	}
	if strings.TrimSpace(cfg.API.Secret) == "" {
		return errors.New("api.secret is required (or set " + EnvAPISecret + ")")
	}
	if hb := cfg.Heartbeat; hb != nil && hb.Enabled {
		if strings.TrimSpace(hb.Schedule) == "" {
			return errors.New("heartbeat.schedule is required when heartbeat is enabled")
		}
		if hb.ChannelID == 0 {
			return errors.New("heartbeat.channel_id is required when heartbeat is enabled")
		}
	}
	return nil
}
