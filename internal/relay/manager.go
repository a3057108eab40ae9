package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/platform"
	logx "relaybot/pkg/logx"
)

// ErrFatal marks a non-recoverable connection failure (rejected credential).
// Run returns it wrapped; main exits non-zero.
var ErrFatal = errors.New("relay: fatal connection failure")

// Outcome is the result of one delivery attempt, for the audit journal.
type Outcome struct {
	At     time.Time
	Mode   Mode
	Target string
	OK     bool
	Error  string
}

// Recorder receives delivery outcomes. Implementations must not block for
// long; they are called from the connection loop.
type Recorder interface {
	Record(o Outcome)
}

type ManagerConfig struct {
	// Cooldown is the fixed sleep between a failed/dropped session and the
	// next connect attempt. Default 600s.
	Cooldown time.Duration

	// ProbeInterval is how often the live session is health-checked while
	// Ready. Default 60s.
	ProbeInterval time.Duration
}

// Manager owns the platform session and runs the connection state machine:
//
//	Connecting -> Ready -> (session drop) -> Backoff -> Connecting
//	Connecting -> (auth rejected) -> Fatal (Run returns ErrFatal)
//
// Run is the process's foreground blocking activity. While Ready, the loop
// is the single execution context that may touch the Messenger; scheduled
// deliveries from the Bridge are executed inline here.
type Manager struct {
	cfg    ManagerConfig
	msgr   platform.Messenger
	bridge *Bridge
	log    logx.Logger

	ready atomic.Bool

	// cooldown is read by the loop and written by config reload.
	cooldown atomic.Int64

	recorder Recorder
	onReady  func(ready bool)
}

func NewManager(cfg ManagerConfig, msgr platform.Messenger, bridge *Bridge, log logx.Logger) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 600 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{cfg: cfg, msgr: msgr, bridge: bridge, log: log}
	m.cooldown.Store(int64(cfg.Cooldown))
	return m
}

// SetRecorder installs the optional delivery audit sink.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// SetReadyHook installs a callback invoked on every readiness transition
// (e.g. systemd notification). Called from the connection loop.
func (m *Manager) SetReadyHook(fn func(ready bool)) { m.onReady = fn }

// Ready reports whether the platform session is connected and usable. It is
// read lock-free across goroutines; a stale true is tolerated because the
// bridge queue is only drained while the loop is actually Ready.
func (m *Manager) Ready() bool { return m.ready.Load() }

// SetCooldown updates the backoff cooldown (hot reload). Takes effect on the
// next backoff.
func (m *Manager) SetCooldown(d time.Duration) {
	if d > 0 {
		m.cooldown.Store(int64(d))
	}
}

// Run blocks until ctx is canceled or a fatal credential failure occurs.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setReady(false)
	defer m.msgr.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.log.Info("connecting")
		if err := m.msgr.Connect(ctx); err != nil {
			if errors.Is(err, platform.ErrAuthFailed) {
				m.log.Error("credential rejected, giving up", logx.Err(err))
				return fmt.Errorf("%w: %v", ErrFatal, err)
			}
			if err := m.backoff(ctx, err); err != nil {
				return err
			}
			continue
		}

		m.setReady(true)
		err := m.serve(ctx)
		m.setReady(false)
		m.msgr.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, platform.ErrAuthFailed) {
			// Token revoked while running; same as a rejected handshake.
			m.log.Error("credential rejected, giving up", logx.Err(err))
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		if err := m.backoff(ctx, err); err != nil {
			return err
		}
	}
}

// serve drains scheduled deliveries and probes the session until it drops.
func (m *Manager) serve(ctx context.Context) error {
	probe := time.NewTicker(m.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.bridge.queue:
			m.deliver(ctx, req)
		case <-probe.C:
			if err := m.msgr.Probe(ctx); err != nil {
				return fmt.Errorf("session probe failed: %w", err)
			}
		}
	}
}

func (m *Manager) backoff(ctx context.Context, cause error) error {
	wait := time.Duration(m.cooldown.Load())
	// Honor a longer platform cool-down hint if one was given.
	if after, ok := platform.RetryAfter(cause); ok && after > wait {
		wait = after
	}
	m.log.Warn("session lost, backing off", logx.Err(cause), logx.Duration("cooldown", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) setReady(v bool) {
	if m.ready.Swap(v) == v {
		return
	}
	if v {
		m.log.Info("ready")
	} else {
		m.log.Info("not ready")
	}
	if m.onReady != nil {
		m.onReady(v)
	}
}

// deliver executes one scheduled delivery inside the connection loop. Every
// failure is caught and logged here; a panic in one delivery must not take
// down the loop.
func (m *Manager) deliver(ctx context.Context, req DeliveryRequest) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in delivery",
				logx.Any("panic", r),
				logx.String("mode", string(req.Mode)),
				logx.String("target", req.TargetID()),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch req.Mode {
	case ModeDM:
		m.deliverDM(ctx, req)
	case ModeChannel:
		m.deliverChannel(ctx, req)
	default:
		m.log.Warn("invalid delivery mode", logx.String("mode", string(req.Mode)))
		m.record(req, false, "invalid mode")
	}
}

func (m *Manager) deliverDM(ctx context.Context, req DeliveryRequest) {
	if strings.TrimSpace(req.UserID) == "" {
		m.log.Warn("dm delivery without user_id, skipping")
		m.record(req, false, "missing user_id")
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.UserID), 10, 64)
	if err != nil {
		m.log.Warn("invalid user_id, skipping", logx.String("user_id", req.UserID))
		m.record(req, false, "invalid user_id")
		return
	}

	user, err := m.msgr.FetchUser(ctx, id)
	if err != nil {
		m.reportFailure(req, id, err)
		return
	}
	if err := m.msgr.SendUser(ctx, user.ID, req.ComposedText()); err != nil {
		m.reportFailure(req, id, err)
		return
	}
	m.log.Info("dm delivered", logx.Int64("user_id", id))
	m.record(req, true, "")
}

func (m *Manager) deliverChannel(ctx context.Context, req DeliveryRequest) {
	if strings.TrimSpace(req.ChannelID) == "" {
		m.log.Warn("channel delivery without channel_id, skipping")
		m.record(req, false, "missing channel_id")
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.ChannelID), 10, 64)
	if err != nil {
		m.log.Warn("invalid channel_id, skipping", logx.String("channel_id", req.ChannelID))
		m.record(req, false, "invalid channel_id")
		return
	}

	ch, err := m.msgr.FetchChannel(ctx, id)
	if err != nil {
		m.reportFailure(req, id, err)
		return
	}
	if !ch.Textable {
		m.log.Warn("channel does not accept text, skipping",
			logx.Int64("channel_id", id), logx.String("title", ch.Title))
		m.record(req, false, platform.ErrNoText.Error())
		return
	}
	if err := m.msgr.SendChannel(ctx, id, req.ComposedText()); err != nil {
		m.reportFailure(req, id, err)
		return
	}
	m.log.Info("channel message delivered", logx.Int64("channel_id", id))
	m.record(req, true, "")
}

func (m *Manager) reportFailure(req DeliveryRequest, id int64, err error) {
	switch {
	case errors.Is(err, platform.ErrNotFound):
		m.log.Error("delivery target not found", logx.String("mode", string(req.Mode)), logx.Int64("target", id))
	case errors.Is(err, platform.ErrForbidden):
		m.log.Error("delivery forbidden", logx.String("mode", string(req.Mode)), logx.Int64("target", id))
	default:
		m.log.Error("delivery failed", logx.String("mode", string(req.Mode)), logx.Int64("target", id), logx.Err(err))
	}
	m.record(req, false, err.Error())
}

func (m *Manager) record(req DeliveryRequest, ok bool, errText string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(Outcome{
		At:     time.Now(),
		Mode:   req.Mode,
		Target: req.TargetID(),
		OK:     ok,
		Error:  errText,
	})
}
