package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relaybot/internal/platform"
	logx "relaybot/pkg/logx"
)

type sentMsg struct {
	kind string // "user" or "channel"
	id   int64
	text string
}

type fakeMessenger struct {
	mu sync.Mutex

	connectErrs []error // popped per Connect call; nil once exhausted
	probeErrs   []error // popped per Probe call; nil once exhausted

	users    map[int64]platform.User
	channels map[int64]platform.Channel
	userErr  error
	chanErr  error
	sendErr  error

	panicOnSend bool

	connects int
	sends    []sentMsg
}

func (f *fakeMessenger) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeMessenger) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.probeErrs) > 0 {
		err := f.probeErrs[0]
		f.probeErrs = f.probeErrs[1:]
		return err
	}
	return nil
}

func (f *fakeMessenger) Close() {}

func (f *fakeMessenger) FetchUser(ctx context.Context, id int64) (platform.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return platform.User{}, f.userErr
	}
	if f.users != nil {
		u, ok := f.users[id]
		if !ok {
			return platform.User{}, platform.ErrNotFound
		}
		return u, nil
	}
	return platform.User{ID: id}, nil
}

func (f *fakeMessenger) FetchChannel(ctx context.Context, id int64) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chanErr != nil {
		return platform.Channel{}, f.chanErr
	}
	if f.channels != nil {
		ch, ok := f.channels[id]
		if !ok {
			return platform.Channel{}, platform.ErrNotFound
		}
		return ch, nil
	}
	return platform.Channel{ID: id, Textable: true}, nil
}

func (f *fakeMessenger) SendUser(ctx context.Context, id int64, text string) error {
	return f.send("user", id, text)
}

func (f *fakeMessenger) SendChannel(ctx context.Context, id int64, text string) error {
	return f.send("channel", id, text)
}

func (f *fakeMessenger) send(kind string, id int64, text string) error {
	f.mu.Lock()
	if f.panicOnSend {
		f.panicOnSend = false
		f.mu.Unlock()
		panic("send exploded")
	}
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentMsg{kind: kind, id: id, text: text})
	return nil
}

func (f *fakeMessenger) sentCopy() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sends...)
}

func (f *fakeMessenger) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeMessenger) injectProbeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErrs = append(f.probeErrs, err)
}

type memRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *memRecorder) Record(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *memRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func newTestManager(f *fakeMessenger) (*Manager, *Bridge, *memRecorder) {
	b := NewBridge(16, logx.Nop())
	m := NewManager(ManagerConfig{
		Cooldown:      20 * time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
	}, f, b, logx.Nop())
	rec := &memRecorder{}
	m.SetRecorder(rec)
	return m, b, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDeliverDM(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, _, rec := newTestManager(f)

	m.deliver(context.Background(), DeliveryRequest{Mode: ModeDM, UserID: "12345", Message: "hi"})

	sends := f.sentCopy()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].kind != "user" || sends[0].id != 12345 || sends[0].text != "hi" {
		t.Fatalf("unexpected send: %+v", sends[0])
	}
	outs := rec.all()
	if len(outs) != 1 || !outs[0].OK {
		t.Fatalf("unexpected outcomes: %+v", outs)
	}
}

func TestDeliverChannelWithLink(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, _, _ := newTestManager(f)

	m.deliver(context.Background(), DeliveryRequest{
		Mode: ModeChannel, ChannelID: "999", Message: "hello", Link: "http://x",
	})

	sends := f.sentCopy()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].kind != "channel" || sends[0].id != 999 {
		t.Fatalf("unexpected send: %+v", sends[0])
	}
	if want := "hello\n\nhttp://x"; sends[0].text != want {
		t.Fatalf("text = %q, want %q", sends[0].text, want)
	}
}

func TestDeliverDMMissingUserID(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, _, rec := newTestManager(f)

	req := DeliveryRequest{Mode: ModeDM, Message: "hi"}
	m.deliver(context.Background(), req)
	m.deliver(context.Background(), req)

	if n := len(f.sentCopy()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
	outs := rec.all()
	if len(outs) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outs))
	}
	for _, o := range outs {
		if o.OK || o.Error != "missing user_id" {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	}
}

func TestDeliverInvalidIDs(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, _, rec := newTestManager(f)

	m.deliver(context.Background(), DeliveryRequest{Mode: ModeDM, UserID: "abc", Message: "hi"})
	m.deliver(context.Background(), DeliveryRequest{Mode: ModeChannel, ChannelID: "12x", Message: "hi"})

	if n := len(f.sentCopy()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
	if n := len(rec.all()); n != 2 {
		t.Fatalf("outcomes = %d, want 2", n)
	}
}

func TestDeliverChannelNotTextable(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{channels: map[int64]platform.Channel{
		7: {ID: 7, Title: "voice", Textable: false},
	}}
	m, _, rec := newTestManager(f)

	m.deliver(context.Background(), DeliveryRequest{Mode: ModeChannel, ChannelID: "7", Message: "hi"})

	if n := len(f.sentCopy()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
	outs := rec.all()
	if len(outs) != 1 || outs[0].OK {
		t.Fatalf("unexpected outcomes: %+v", outs)
	}
}

func TestDeliverTargetNotFound(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{userErr: fmt.Errorf("%w: no such user", platform.ErrNotFound)}
	m, _, rec := newTestManager(f)

	m.deliver(context.Background(), DeliveryRequest{Mode: ModeDM, UserID: "5", Message: "hi"})

	if n := len(f.sentCopy()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
	outs := rec.all()
	if len(outs) != 1 || outs[0].OK {
		t.Fatalf("unexpected outcomes: %+v", outs)
	}
}

func TestDeliverPanicDoesNotEscape(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{panicOnSend: true}
	m, _, _ := newTestManager(f)

	// First delivery panics inside the send; deliver must swallow it.
	m.deliver(context.Background(), DeliveryRequest{Mode: ModeDM, UserID: "1", Message: "boom"})
	// Second delivery goes through normally.
	m.deliver(context.Background(), DeliveryRequest{Mode: ModeDM, UserID: "2", Message: "ok"})

	sends := f.sentCopy()
	if len(sends) != 1 || sends[0].id != 2 {
		t.Fatalf("unexpected sends: %+v", sends)
	}
}

func TestRunFatalOnAuthFailure(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{connectErrs: []error{fmt.Errorf("%w: bad token", platform.ErrAuthFailed)}}
	m, _, _ := newTestManager(f)

	err := m.Run(context.Background())
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("Run error = %v, want ErrFatal", err)
	}
	if m.Ready() {
		t.Fatal("manager still ready after fatal failure")
	}
}

func TestRunTransientConnectFailureBacksOff(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{connectErrs: []error{errors.New("dial timeout")}}
	m, _, _ := newTestManager(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "ready after backoff", m.Ready)
	if got := f.connectCount(); got < 2 {
		t.Fatalf("connects = %d, want >= 2", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunReconnectAfterSessionDrop(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, _, _ := newTestManager(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "initial ready", m.Ready)

	f.injectProbeErr(errors.New("connection reset"))
	waitFor(t, "ready dropped", func() bool { return !m.Ready() })
	waitFor(t, "ready restored", m.Ready)

	if got := f.connectCount(); got < 2 {
		t.Fatalf("connects = %d, want >= 2", got)
	}

	cancel()
	<-done
}

func TestRunDeliversQueuedRequestsOnceReady(t *testing.T) {
	t.Parallel()
	f := &fakeMessenger{}
	m, b, _ := newTestManager(f)

	// Scheduled before the session exists; must sit in the queue until Ready.
	b.Schedule(DeliveryRequest{Mode: ModeDM, UserID: "42", Message: "early"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "queued delivery", func() bool { return len(f.sentCopy()) == 1 })
	sends := f.sentCopy()
	if sends[0].id != 42 || sends[0].text != "early" {
		t.Fatalf("unexpected send: %+v", sends[0])
	}

	cancel()
	<-done
}
