package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/jllopis/switchboard/pkg/core"
)

// EventPublisher is a core.EventEmitter that publishes every event to
// "<prefix>.events.<type>". Messages carry the id "<run_id>-<seq>" so
// redelivered events are dropped by the stream's duplicate window.
type EventPublisher struct {
	pub    Publisher
	prefix string
	logger *slog.Logger

	mu  sync.Mutex
	seq map[string]uint64
}

// NewEventPublisher creates an EventPublisher. A nil logger uses slog.Default.
func NewEventPublisher(pub Publisher, prefix string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{pub: pub, prefix: prefix, logger: logger, seq: make(map[string]uint64)}
}

// Subject returns the subject for an event type.
func (p *EventPublisher) Subject(t core.EventType) string {
	return fmt.Sprintf("%s.events.%s", p.prefix, t)
}

// Emit implements core.EventEmitter. Failures are logged, never returned.
func (p *EventPublisher) Emit(ctx context.Context, event core.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "bus.event.encode_failed", "type", event.Type, "error", err)
		return
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	if event.RunID != "" {
		msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s-%d", event.RunID, p.next(event)))
	}
	if _, err := p.pub.PublishMsg(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.WarnContext(ctx, "bus.publish.failed", "subject", msg.Subject, "error", err)
	}
}

// next returns the per-run sequence number; the counter is dropped once the
// run completes.
func (p *EventPublisher) next(event core.Event) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[event.RunID]++
	n := p.seq[event.RunID]
	if event.Type == core.EventRunCompleted {
		delete(p.seq, event.RunID)
	}
	return n
}
