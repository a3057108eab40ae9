// Package heartbeat posts a periodic status message to an operations channel
// through the same dispatch bridge regular deliveries use.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	cron "github.com/robfig/cron/v3"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

type Config struct {
	// Schedule is a standard 5-field cron spec.
	Schedule  string
	ChannelID int64
}

type Service struct {
	cfg    Config
	log    logx.Logger
	bridge *relay.Bridge
	ready  func() bool

	cron *cron.Cron
}

func New(cfg Config, bridge *relay.Bridge, ready func() bool, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Schedule) == "" {
		return nil, errors.New("heartbeat schedule is empty")
	}
	if cfg.ChannelID == 0 {
		return nil, errors.New("heartbeat channel id is zero")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bridge: bridge, ready: ready}, nil
}

func (s *Service) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("heartbeat started", logx.String("schedule", s.cfg.Schedule), logx.Int64("channel_id", s.cfg.ChannelID))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cron = nil
	s.log.Info("heartbeat stopped")
}

func (s *Service) tick() {
	// Skip while the session is down; queueing heartbeats during a long
	// backoff would dump a stale burst on reconnect.
	if !s.ready() {
		s.log.Debug("heartbeat skipped (not ready)")
		return
	}
	msg := fmt.Sprintf("relaybot alive: queue depth %d, dropped %d",
		s.bridge.Depth(), s.bridge.Dropped())
	s.bridge.Schedule(relay.DeliveryRequest{
		Mode:      relay.ModeChannel,
		ChannelID: strconv.FormatInt(s.cfg.ChannelID, 10),
		Message:   msg,
	})
}
