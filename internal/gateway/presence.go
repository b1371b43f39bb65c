package gateway

import (
	"context"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/protocol"
)

// PresenceBroadcaster pushes the full online-user list to every open
// connection whenever visible state changes. Rapid successive changes within
// the debounce window coalesce into a single snapshot; the observable end
// state is the same either way.
type PresenceBroadcaster struct {
	registry *Registry
	debounce time.Duration
	kick     chan struct{}
}

// NewPresenceBroadcaster creates a broadcaster over the given registry
func NewPresenceBroadcaster(registry *Registry, debounce time.Duration) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		registry: registry,
		debounce: debounce,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a presence broadcast. Non-blocking; a pending request
// absorbs further kicks until the broadcast fires.
func (p *PresenceBroadcaster) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run services kick requests until the context is cancelled. Call in its own
// goroutine.
func (p *PresenceBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			if !p.wait(ctx) {
				return
			}
			p.BroadcastNow()
		}
	}
}

// wait absorbs kicks for the debounce window; returns false on cancellation
func (p *PresenceBroadcaster) wait(ctx context.Context) bool {
	if p.debounce <= 0 {
		return true
	}
	timer := time.NewTimer(p.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-p.kick:
			// coalesce
		case <-timer.C:
			return true
		}
	}
}

// BroadcastNow recomputes the presence snapshot and pushes it to every open
// connection, identified or not.
func (p *PresenceBroadcaster) BroadcastNow() {
	records := p.registry.Presence()
	frame, err := protocol.Encode(protocol.TypePresence, records)
	if err != nil {
		return
	}
	for _, sess := range p.registry.Snapshot() {
		if sess.Enqueue(frame) {
			metricEventsOut.WithLabelValues(string(protocol.TypePresence)).Inc()
		} else {
			metricEventsDropped.Inc()
		}
	}
}
