package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// codeUpdateInterval caps opponentCodeUpdate fan-out at 20 Hz per target.
const codeUpdateInterval = 50 * time.Millisecond

// rawPublisher is the publisher subset the throttle needs.
type rawPublisher interface {
	PublishRaw(ctx context.Context, target string, payload []byte) error
}

// Throttle is a per-target coalescing sender. Intermediate values inside the
// minimum interval are dropped; the final value is always delivered once the
// interval elapses.
type Throttle struct {
	publisher rawPublisher
	interval  time.Duration

	mu    sync.Mutex
	slots map[string]*throttleSlot
}

type throttleSlot struct {
	lastSent time.Time
	pending  []byte
	timer    *time.Timer
}

// NewThrottle creates a coalescing sender with the standard code-update
// interval.
func NewThrottle(publisher rawPublisher) *Throttle {
	return &Throttle{
		publisher: publisher,
		interval:  codeUpdateInterval,
		slots:     make(map[string]*throttleSlot),
	}
}

// Publish sends the event to the target now if the interval has elapsed,
// otherwise coalesces it: the newest payload replaces any pending one and is
// flushed when the interval expires.
func (t *Throttle) Publish(ctx context.Context, target string, event ServerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal throttled event", "target", target, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.slots[target]
	if slot == nil {
		slot = &throttleSlot{}
		t.slots[target] = slot
	}

	now := time.Now()
	if slot.timer == nil && now.Sub(slot.lastSent) >= t.interval {
		slot.lastSent = now
		t.send(target, payload)
		return
	}

	// Inside the interval: keep only the newest payload and arm one flush.
	slot.pending = payload
	if slot.timer == nil {
		wait := t.interval - now.Sub(slot.lastSent)
		if wait < 0 {
			wait = 0
		}
		slot.timer = time.AfterFunc(wait, func() { t.flush(target) })
	}
}

func (t *Throttle) flush(target string) {
	t.mu.Lock()
	slot := t.slots[target]
	if slot == nil {
		t.mu.Unlock()
		return
	}
	payload := slot.pending
	slot.pending = nil
	slot.timer = nil
	slot.lastSent = time.Now()
	t.mu.Unlock()

	if payload != nil {
		t.send(target, payload)
	}
}

func (t *Throttle) send(target string, payload []byte) {
	if err := t.publisher.PublishRaw(context.Background(), target, payload); err != nil {
		slog.Warn("Publishing throttled event failed", "target", target, "error", err)
	}
}

// Forget drops throttle state for a target, once its match is over.
func (t *Throttle) Forget(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot, ok := t.slots[target]; ok {
		if slot.timer != nil {
			slot.timer.Stop()
		}
		delete(t.slots, target)
	}
}
