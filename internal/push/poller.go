package push

import (
	"context"

	"kibot/internal/subs"
	"kibot/pkg/logx"
)

// feedPoller detects new items for sequence-baseline sources.
//
// Stateless between ticks except for what it reads and writes through the
// subscription store. The caller serializes polls per entity; within that,
// the baseline read-modify-write here is the only writer.
type feedPoller struct {
	kind       subs.Kind
	src        FeedSource
	store      *subs.Store
	log        logx.Logger
	maxBacklog int
}

// Poll fetches the entity's current items and walks from newest until it
// reaches the stored baseline ID (that item and everything older is
// excluded) or the list ends. If the baseline ID is no longer present in
// the fetch, the whole list counts as new (bounded-backlog policy). The
// returned slice is newest first, capped at maxBacklog.
//
// A non-empty fetch always advances the baseline to the newest ID, even
// when nothing was judged new. A fetch error returns no items and leaves
// the baseline untouched so the same delta window is retried next tick.
func (p *feedPoller) Poll(ctx context.Context, entity string) ([]FeedItem, error) {
	base, _ := p.store.Baseline(p.kind, entity)

	items, err := p.src.Fetch(ctx, entity)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	var fresh []FeedItem
	for _, it := range items {
		if base.Seq != "" && it.ID() == base.Seq {
			break
		}
		fresh = append(fresh, it)
	}
	if p.maxBacklog > 0 && len(fresh) > p.maxBacklog {
		p.log.Warn("new item backlog capped",
			logx.String("kind", string(p.kind)), logx.String("entity", entity),
			logx.Int("found", len(fresh)), logx.Int("cap", p.maxBacklog))
		fresh = fresh[:p.maxBacklog]
	}

	if newest := items[0].ID(); newest != base.Seq {
		if err := p.store.SetBaseline(ctx, p.kind, entity, subs.SeqBaseline(newest)); err != nil {
			p.log.Warn("baseline not persisted",
				logx.String("kind", string(p.kind)), logx.String("entity", entity), logx.Err(err))
		}
	}
	return fresh, nil
}

// Seed initializes the baseline from the entity's current newest item so a
// subscribe never replays existing backlog as new. An empty fetch leaves
// the baseline absent: items appearing later are genuinely new.
func (p *feedPoller) Seed(ctx context.Context, entity string) error {
	items, err := p.src.Fetch(ctx, entity)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return p.store.SetBaseline(ctx, p.kind, entity, subs.SeqBaseline(items[0].ID()))
}

// statusPoller detects false→true transitions for status-baseline sources.
type statusPoller struct {
	kind  subs.Kind
	src   StatusSource
	store *subs.Store
	log   logx.Logger
}

// Poll fetches the current status. An absent baseline only seeds it
// (initialization, no event). A false→true transition returns the status
// with fired=true; every other combination records the current state
// silently.
func (p *statusPoller) Poll(ctx context.Context, entity string) (st Status, fired bool, err error) {
	base, ok := p.store.Baseline(p.kind, entity)

	st, err = p.src.Fetch(ctx, entity)
	if err != nil {
		return nil, false, err
	}
	cur := st.Active()

	if !ok || base.Active == nil {
		if err := p.store.SetBaseline(ctx, p.kind, entity, subs.StatusBaseline(cur)); err != nil {
			p.log.Warn("baseline not persisted",
				logx.String("kind", string(p.kind)), logx.String("entity", entity), logx.Err(err))
		}
		return st, false, nil
	}

	prev := *base.Active
	if cur != prev {
		if err := p.store.SetBaseline(ctx, p.kind, entity, subs.StatusBaseline(cur)); err != nil {
			p.log.Warn("baseline not persisted",
				logx.String("kind", string(p.kind)), logx.String("entity", entity), logx.Err(err))
		}
	}
	return st, cur && !prev, nil
}

// Seed records the entity's current status so the first scheduled poll
// cannot misread pre-existing state as a fresh transition.
func (p *statusPoller) Seed(ctx context.Context, entity string) error {
	st, err := p.src.Fetch(ctx, entity)
	if err != nil {
		return err
	}
	return p.store.SetBaseline(ctx, p.kind, entity, subs.StatusBaseline(st.Active()))
}
