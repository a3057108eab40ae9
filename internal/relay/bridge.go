package relay

import (
	"sync/atomic"

	logx "relaybot/pkg/logx"
)

const defaultQueueSize = 256

// Bridge moves DeliveryRequests from arbitrary gateway goroutines into the
// manager's single execution context. Schedule never blocks the caller.
type Bridge struct {
	queue   chan DeliveryRequest
	log     logx.Logger
	dropped atomic.Uint64
}

func NewBridge(size int, log logx.Logger) *Bridge {
	if size <= 0 {
		size = defaultQueueSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{
		queue: make(chan DeliveryRequest, size),
		log:   log,
	}
}

// Schedule hands req to the connection loop and returns immediately. Safe for
// concurrent use. If the queue is full the request is dropped with a warning;
// there is no durable buffering (fire-and-forget contract).
func (b *Bridge) Schedule(req DeliveryRequest) {
	select {
	case b.queue <- req:
		b.log.Debug("delivery scheduled",
			logx.String("mode", string(req.Mode)),
			logx.String("target", req.TargetID()),
			logx.Int("queue_len", len(b.queue)),
		)
	default:
		b.dropped.Add(1)
		b.log.Warn("delivery dropped (queue full)",
			logx.String("mode", string(req.Mode)),
			logx.String("target", req.TargetID()),
			logx.Int("queue_cap", cap(b.queue)),
		)
	}
}

// Depth reports how many deliveries are waiting for the connection loop.
func (b *Bridge) Depth() int { return len(b.queue) }

// Dropped reports how many deliveries were discarded because the queue was full.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }
