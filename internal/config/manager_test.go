package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json", `{
		"telegram": {"token": "123:abc", "send_rate_per_sec": 10},
		"api": {"secret": "s3cret", "addr": ":9090", "route": "/hook"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"reconnect": {"cooldown": "30s", "probe_interval": "5s"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.SendRatePerSec != 10 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.API.Addr != ":9090" || cfg.API.Route != "/hook" {
		t.Fatalf("api = %+v", cfg.API)
	}
	if cfg.Reconnect.Cooldown != "30s" {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: "123:abc"
api:
  secret: s3cret
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.API.Secret != "s3cret" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json", `{
		"telegram": {"token": "123:abc"},
		"api": {"secret": "s"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"surprise": true
	}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted an unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json",
		`{"telegram": {"token": "t"}, "api": {"secret": "s"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}{"extra": 1}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted trailing JSON")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvToken, "999:env")
	t.Setenv(EnvAPISecret, "env-secret")
	t.Setenv(EnvListenAddr, ":7070")

	cfg := &Config{}
	cfg.Telegram.Token = "file-token"
	cfg.API.Secret = "file-secret"
	ApplyEnv(cfg)

	if cfg.Telegram.Token != "999:env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.API.Secret != "env-secret" {
		t.Fatalf("secret = %q", cfg.API.Secret)
	}
	if cfg.API.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.API.Addr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		cfg := &Config{}
		cfg.Telegram.Token = "t"
		cfg.API.Secret = "s"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}, wantErr: false},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, wantErr: true},
		{name: "missing secret", mutate: func(c *Config) { c.API.Secret = "" }, wantErr: true},
		{name: "heartbeat without schedule", mutate: func(c *Config) {
			c.Heartbeat = &HeartbeatConfig{Enabled: true, ChannelID: 1}
		}, wantErr: true},
		{name: "heartbeat without channel", mutate: func(c *Config) {
			c.Heartbeat = &HeartbeatConfig{Enabled: true, Schedule: "*/5 * * * *"}
		}, wantErr: true},
		{name: "heartbeat disabled, fields empty", mutate: func(c *Config) {
			c.Heartbeat = &HeartbeatConfig{Enabled: false}
		}, wantErr: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	cfg.Telegram.Token = "t"
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("received a different config pointer")
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	second.Telegram.Token = "newer"
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got != second {
		t.Fatal("subscriber did not receive the newest config")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	body := `{"telegram": {"token": "t1"}, "api": {"secret": "s"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`
	path := writeFile(t, dir, "config.json", body)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.json",
		`{"telegram": {"token": "t2"}, "api": {"secret": "s"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`)

	select {
	case got := <-ch:
		if got.Telegram.Token != "t2" {
			t.Fatalf("token = %q, want t2", got.Telegram.Token)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never published the new config")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
}
