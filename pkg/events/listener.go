package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// channelPrefix is stripped from pub/sub channel names to recover the target.
const channelPrefix = "events:"

// Listener bridges the pub/sub bus into the local ConnectionManager. One
// Listener runs per process, pattern-subscribed to every event channel.
type Listener struct {
	store   *store.Store
	manager *ConnectionManager

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	startOnce  sync.Once
}

// NewListener creates the pub/sub bridge.
func NewListener(s *store.Store, manager *ConnectionManager) *Listener {
	return &Listener{store: s, manager: manager}
}

// Start opens the pattern subscription and begins dispatching. The go-redis
// PubSub reconnects on its own; the receive loop just keeps reading.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		l.cancelLoop = cancel
		l.loopDone = make(chan struct{})

		sub := l.store.Subscribe(loopCtx, channelPrefix+"*")
		go func() {
			defer close(l.loopDone)
			defer func() { _ = sub.Close() }()

			ch := sub.Channel()
			for {
				select {
				case msg, ok := <-ch:
					if !ok {
						return
					}
					target := strings.TrimPrefix(msg.Channel, channelPrefix)
					l.manager.deliver(target, []byte(msg.Payload))
				case <-loopCtx.Done():
					return
				}
			}
		}()
		slog.Info("Event listener started")
	})
}

// Stop terminates the receive loop and waits for it to drain.
func (l *Listener) Stop() {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	slog.Info("Event listener stopped")
}
