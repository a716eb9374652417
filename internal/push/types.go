package push

import (
	"context"
	"time"

	"kibot/internal/transport"
)

// FeedItem is one entry of a sequence-baseline source, newest first in a
// fetch. Render must be pure: no I/O, no shared state.
type FeedItem interface {
	ID() string
	Render() transport.Content
}

// FeedSource fetches the current items of one entity, newest first.
// Implementations are read-only and idempotent on the external system.
type FeedSource interface {
	Fetch(ctx context.Context, entity string) ([]FeedItem, error)
}

// Status is the current broadcast state of a status-baseline entity.
// Render produces the content delivered on a false→true transition.
type Status interface {
	Active() bool
	Render() transport.Content
}

// StatusSource fetches the current broadcast status of one entity.
type StatusSource interface {
	Fetch(ctx context.Context, entity string) (Status, error)
}

// DailySource produces ready-to-deliver content for an entity once per
// scheduled fire (no baseline; a daily slate or report push).
type DailySource interface {
	Fetch(ctx context.Context, entity string) (transport.Content, error)
}

// Schedule says when a source's tick runs: either every fixed interval or
// daily at a wall-clock time (scheduler timezone). Exactly one is set.
type Schedule struct {
	Every   time.Duration
	DailyAt string // "HH:MM"
}

// DeliveryReport summarizes one fan-out.
type DeliveryReport struct {
	Groups       int
	Delivered    int
	Failed       int
	FailedGroups []int64
}

func (r DeliveryReport) merge(o DeliveryReport) DeliveryReport {
	r.Groups += o.Groups
	r.Delivered += o.Delivered
	r.Failed += o.Failed
	r.FailedGroups = append(r.FailedGroups, o.FailedGroups...)
	return r
}

// CheckResult is the definite outcome of an on-demand check.
type CheckResult struct {
	// Found is the number of new items (or 1 for a status transition)
	// detected by the check.
	Found int
	// Delivered and Failed count per-group deliveries across all found items.
	Delivered int
	Failed    int
}
