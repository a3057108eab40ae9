package heartbeat

import (
	"context"
	"testing"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()
	b := relay.NewBridge(4, logx.Nop())
	ready := func() bool { return true }

	if _, err := New(Config{Schedule: "", ChannelID: 1}, b, ready, logx.Nop()); err == nil {
		t.Fatal("New accepted an empty schedule")
	}
	if _, err := New(Config{Schedule: "*/5 * * * *", ChannelID: 0}, b, ready, logx.Nop()); err == nil {
		t.Fatal("New accepted a zero channel id")
	}
	if _, err := New(Config{Schedule: "*/5 * * * *", ChannelID: 1}, b, ready, logx.Nop()); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	b := relay.NewBridge(4, logx.Nop())
	s, err := New(Config{Schedule: "every full moon", ChannelID: 1}, b, func() bool { return true }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start accepted a malformed schedule")
	}
}

func TestTickSkipsWhenNotReady(t *testing.T) {
	t.Parallel()
	b := relay.NewBridge(4, logx.Nop())
	s, err := New(Config{Schedule: "* * * * *", ChannelID: 42}, b, func() bool { return false }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick()
	if got := b.Depth(); got != 0 {
		t.Fatalf("Depth = %d, want 0", got)
	}
}

func TestTickSchedulesStatusMessage(t *testing.T) {
	t.Parallel()
	b := relay.NewBridge(4, logx.Nop())
	s, err := New(Config{Schedule: "* * * * *", ChannelID: 42}, b, func() bool { return true }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick()
	if got := b.Depth(); got != 1 {
		t.Fatalf("Depth = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	b := relay.NewBridge(4, logx.Nop())
	s, err := New(Config{Schedule: "* * * * *", ChannelID: 42}, b, func() bool { return true }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
	// Stop again must be a no-op.
	s.Stop(context.Background())
}
