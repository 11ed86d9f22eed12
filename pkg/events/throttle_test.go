package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{payloads: map[string][][]byte{}}
}

func (c *capturingPublisher) PublishRaw(_ context.Context, target string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[target] = append(c.payloads[target], payload)
	return nil
}

func (c *capturingPublisher) count(target string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads[target])
}

func (c *capturingPublisher) last(target string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	sent := c.payloads[target]
	if len(sent) == 0 {
		return nil
	}
	return sent[len(sent)-1]
}

func codeEvent(code string) ServerEvent {
	return ServerEvent{Type: EventOpponentCodeUpdate, Data: map[string]string{"code": code}}
}

func TestThrottleSendsFirstImmediately(t *testing.T) {
	pub := newCapturingPublisher()
	th := NewThrottle(pub)

	th.Publish(context.Background(), "match:m1", codeEvent("v1"))
	assert.Equal(t, 1, pub.count("match:m1"))
}

func TestThrottleCoalescesBurstAndDeliversFinalValue(t *testing.T) {
	pub := newCapturingPublisher()
	th := NewThrottle(pub)
	ctx := context.Background()

	// A burst well inside the interval: first goes out, the rest coalesce.
	for _, v := range []string{"v1", "v2", "v3", "v4", "v5"} {
		th.Publish(ctx, "match:m1", codeEvent(v))
	}
	assert.Equal(t, 1, pub.count("match:m1"))

	// After the interval the final value must arrive.
	require.Eventually(t, func() bool {
		return pub.count("match:m1") == 2
	}, time.Second, 5*time.Millisecond)

	var event ServerEvent
	require.NoError(t, json.Unmarshal(pub.last("match:m1"), &event))
	data := event.Data.(map[string]any)
	assert.Equal(t, "v5", data["code"])
}

func TestThrottleIndependentTargets(t *testing.T) {
	pub := newCapturingPublisher()
	th := NewThrottle(pub)
	ctx := context.Background()

	th.Publish(ctx, "match:m1", codeEvent("a"))
	th.Publish(ctx, "match:m2", codeEvent("b"))

	assert.Equal(t, 1, pub.count("match:m1"))
	assert.Equal(t, 1, pub.count("match:m2"))
}

func TestThrottleRateUnderSustainedLoad(t *testing.T) {
	pub := newCapturingPublisher()
	th := NewThrottle(pub)
	ctx := context.Background()

	// Publish continuously for ~6 intervals; sends must stay near one per
	// interval rather than one per publish.
	deadline := time.Now().Add(6 * codeUpdateInterval)
	i := 0
	for time.Now().Before(deadline) {
		th.Publish(ctx, "match:m1", codeEvent("v"))
		i++
		time.Sleep(time.Millisecond)
	}
	time.Sleep(2 * codeUpdateInterval) // let the trailing flush land

	sent := pub.count("match:m1")
	assert.Greater(t, i, 20, "test should publish a real burst")
	assert.LessOrEqual(t, sent, 10, "sends must be capped by the interval")
	assert.GreaterOrEqual(t, sent, 3)
}

func TestThrottleForget(t *testing.T) {
	pub := newCapturingPublisher()
	th := NewThrottle(pub)
	ctx := context.Background()

	th.Publish(ctx, "match:m1", codeEvent("v1"))
	th.Publish(ctx, "match:m1", codeEvent("v2"))
	th.Forget("match:m1")

	time.Sleep(2 * codeUpdateInterval)
	assert.Equal(t, 1, pub.count("match:m1"), "pending flush must be dropped after Forget")
}
