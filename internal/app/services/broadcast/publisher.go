// Package broadcast fans reconciled feed snapshots out to downstream
// consumers. Publish failures are reported to the caller but must never
// block or abort a polling cycle.
package broadcast

import (
	"context"
	"time"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

// Publisher delivers a feed snapshot to one downstream channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, feeds []market.Feed) error
}

// Envelope is the wire shape shared by all publishers.
type Envelope struct {
	Type      string        `json:"type"`
	Feeds     []market.Feed `json:"feeds"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewEnvelope wraps a snapshot in the price_update message shape.
func NewEnvelope(feeds []market.Feed) Envelope {
	return Envelope{Type: "price_update", Feeds: feeds, Timestamp: time.Now().UTC()}
}

// Multi publishes to every member in order, returning the first error
// after attempting all of them.
type Multi struct {
	members []Publisher
}

func NewMulti(members ...Publisher) *Multi {
	return &Multi{members: members}
}

func (m *Multi) Name() string { return "broadcast-multi" }

func (m *Multi) Publish(ctx context.Context, feeds []market.Feed) error {
	var first error
	for _, member := range m.members {
		if err := member.Publish(ctx, feeds); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Noop discards snapshots. Used when no broadcast channel is configured.
type Noop struct{}

func (Noop) Name() string                                  { return "broadcast-noop" }
func (Noop) Publish(context.Context, []market.Feed) error { return nil }
