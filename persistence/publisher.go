package persistence

import (
	"context"
	"time"

	"github.com/comalice/scxmlrt/event"
)

// PublishedEvent bundles a processed event with the session it belongs to
// and the configuration that resulted, for an external subscriber (a log
// shipper, a UI, a test harness watching for a particular event).
// Directly adapted from internal/production.PublishedEvent, retargeted
// from core.MachineMetadata to the (sessionID, configuration) pair this
// module's runtime actually has on hand at the point a microstep
// completes.
type PublishedEvent struct {
	SessionID     string
	Event         event.Event
	Configuration []string
	At            time.Time
}

// Publisher receives one PublishedEvent per processed microstep. Runtime
// hooks are expected to call Publish best-effort (a publisher is
// diagnostic tooling, never load-bearing for interpretation correctness).
type Publisher interface {
	Publish(ctx context.Context, pe PublishedEvent) error
	Close() error
}

// ChannelPublisher forwards PublishedEvents to a Go channel, non-blocking
// with drop-on-backpressure — directly adapted from
// internal/production.ChannelPublisher, which has the identical shape and
// the identical backpressure policy.
type ChannelPublisher struct {
	ch chan<- PublishedEvent
}

// NewChannelPublisher creates a ChannelPublisher writing to ch.
func NewChannelPublisher(ch chan<- PublishedEvent) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, pe PublishedEvent) error {
	select {
	case p.ch <- pe:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil // non-blocking drop, matching the teacher's backpressure policy
	}
}

func (p *ChannelPublisher) Close() error {
	close(p.ch)
	return nil
}
