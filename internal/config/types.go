package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`

	// Reconnect controls the connection manager's backoff behavior.
	Reconnect ReconnectConfig `json:"reconnect"`

	// Heartbeat posts a periodic status message to a channel. Off by default.
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`

	// Journal records delivery outcomes to SQLite for diagnostics.
	// This is an audit trail, not a retry queue. Off by default.
	Journal *JournalConfig `json:"journal,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// SendRatePerSec caps outbound sends (Telegram global limit is ~30/s).
	// Default 25.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`

	// ClientTimeout bounds a single Bot API call. Go duration string.
	// Default "10s".
	ClientTimeout string `json:"client_timeout,omitempty"`
}

type APIConfig struct {
	// Secret is the shared api-key required on POST.
	Secret string `json:"secret"`

	// Addr is the HTTP listen address. Default ":8080".
	Addr string `json:"addr,omitempty"`

	// Route is the single served route. Default "/notify".
	Route string `json:"route,omitempty"`

	// QueueSize is the dispatch bridge capacity. Default 256.
	QueueSize int `json:"queue_size,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// ReconnectConfig controls the Connecting/Ready/Backoff state machine.
//
// All durations are Go duration strings (e.g. "30s", "10m").
type ReconnectConfig struct {
	// Cooldown is the fixed sleep between a failed/dropped session and the
	// next connect attempt. Default "600s".
	Cooldown string `json:"cooldown,omitempty"`

	// ProbeInterval is how often the live session is health-checked while
	// Ready. Default "60s".
	ProbeInterval string `json:"probe_interval,omitempty"`
}

type HeartbeatConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (e.g. "*/30 * * * *").
	Schedule  string `json:"schedule"`
	ChannelID int64  `json:"channel_id"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
