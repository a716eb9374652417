package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kibot/internal/scheduler"
	"kibot/internal/subs"
	"kibot/pkg/logx"
)

// ErrUnknownKind is returned for operations on a source kind no source was
// registered for.
var ErrUnknownKind = errors.New("unknown source kind")

type EngineConfig struct {
	// FetchTimeout bounds every external fetch (tens of seconds); a timed
	// out fetch is handled like any other fetch failure.
	FetchTimeout time.Duration
	// MaxBacklog caps how many items one poll may report as new.
	MaxBacklog int
}

// Engine owns the registered sources, their tick schedules, and the
// per-entity locks that keep one entity's baseline read-modify-write from
// interleaving between a scheduled tick and a manual check.
type Engine struct {
	cfg   EngineConfig
	log   logx.Logger
	store *subs.Store
	disp  *Dispatcher
	sched *scheduler.Service

	feeds    map[subs.Kind]*feedPoller
	statuses map[subs.Kind]*statusPoller
	dailies  map[subs.Kind]DailySource
	plans    []plan

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type plan struct {
	kind subs.Kind
	sch  Schedule
	job  func(ctx context.Context) error
}

func NewEngine(cfg EngineConfig, store *subs.Store, disp *Dispatcher, sched *scheduler.Service, log logx.Logger) *Engine {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		store:    store,
		disp:     disp,
		sched:    sched,
		feeds:    map[subs.Kind]*feedPoller{},
		statuses: map[subs.Kind]*statusPoller{},
		dailies:  map[subs.Kind]DailySource{},
		locks:    map[string]*sync.Mutex{},
	}
}

// RegisterFeed wires a sequence-baseline source under the kind.
// Registration happens before Start; it is not safe concurrently with it.
func (e *Engine) RegisterFeed(kind subs.Kind, src FeedSource, sch Schedule) {
	p := &feedPoller{kind: kind, src: src, store: e.store, log: e.log, maxBacklog: e.cfg.MaxBacklog}
	e.feeds[kind] = p
	e.plans = append(e.plans, plan{kind: kind, sch: sch, job: func(ctx context.Context) error {
		return e.tickFeed(ctx, kind)
	}})
}

// RegisterStatus wires a status-baseline source under the kind.
func (e *Engine) RegisterStatus(kind subs.Kind, src StatusSource, sch Schedule) {
	p := &statusPoller{kind: kind, src: src, store: e.store, log: e.log}
	e.statuses[kind] = p
	e.plans = append(e.plans, plan{kind: kind, sch: sch, job: func(ctx context.Context) error {
		return e.tickStatus(ctx, kind)
	}})
}

// RegisterDaily wires a daily push source under the kind.
func (e *Engine) RegisterDaily(kind subs.Kind, src DailySource, sch Schedule) {
	e.dailies[kind] = src
	e.plans = append(e.plans, plan{kind: kind, sch: sch, job: func(ctx context.Context) error {
		return e.tickDaily(ctx, kind)
	}})
}

// Start registers one schedule per source kind and starts the scheduler.
// Overlapping fires of the same kind are skipped by the scheduler, which
// together with the per-entity locks keeps baseline updates linearized per
// entity.
func (e *Engine) Start(ctx context.Context) error {
	for _, p := range e.plans {
		name := "push." + string(p.kind)
		var err error
		switch {
		case p.sch.Every > 0:
			err = e.sched.AddInterval(name, p.sch.Every, 0, p.job)
		case p.sch.DailyAt != "":
			err = e.sched.AddDaily(name, p.sch.DailyAt, 0, p.job)
		default:
			err = fmt.Errorf("source %q has no schedule", p.kind)
		}
		if err != nil {
			return err
		}
	}
	e.sched.Start(ctx)
	e.log.Info("push engine started", logx.Int("sources", len(e.plans)))
	return nil
}

// Stop stops the scheduler, draining in-flight ticks.
func (e *Engine) Stop(ctx context.Context) {
	e.sched.Stop(ctx)
	e.log.Info("push engine stopped")
}

// Subscribe adds the membership and, when the entity has no baseline yet
// (or uses a status baseline, which is refreshed), performs the
// baseline-seeding fetch synchronously before returning, under the same
// per-entity lock the pollers take. A failed seed keeps the subscription:
// the entity's backlog is then bounded by the poller's cap.
func (e *Engine) Subscribe(ctx context.Context, kind subs.Kind, group int64, entity string) (bool, error) {
	if !e.knownKind(kind) {
		return false, ErrUnknownKind
	}
	added, err := e.store.Subscribe(ctx, kind, group, entity)
	if err != nil || !added {
		return added, err
	}

	if seed := e.seederFor(kind); seed != nil {
		e.withEntityLock(kind, entity, func() {
			_, hasBase := e.store.Baseline(kind, entity)
			if _, isStatus := e.statuses[kind]; hasBase && !isStatus {
				return
			}
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
			if err := seed(fctx, entity); err != nil {
				e.log.Warn("baseline seed failed; first poll may report capped backlog",
					logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
			}
		})
	}
	return true, nil
}

// Unsubscribe removes the membership and reports whether it was present.
func (e *Engine) Unsubscribe(ctx context.Context, kind subs.Kind, group int64, entity string) (bool, error) {
	if !e.knownKind(kind) {
		return false, ErrUnknownKind
	}
	return e.store.Unsubscribe(ctx, kind, group, entity)
}

// Subscriptions lists the group's subscribed entities in insertion order.
func (e *Engine) Subscriptions(kind subs.Kind, group int64) []string {
	return e.store.Subscriptions(kind, group)
}

// CheckNow runs one on-demand poll for the entity, outside the schedule but
// through the same poll contract (it observes and advances the same
// baseline, under the same per-entity lock). The result is definite: items
// found with delivery counts, none found, or an error.
func (e *Engine) CheckNow(ctx context.Context, kind subs.Kind, entity string) (CheckResult, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	var res CheckResult
	var pollErr error

	switch {
	case e.feeds[kind] != nil:
		e.withEntityLock(kind, entity, func() {
			items, err := e.feeds[kind].Poll(fctx, entity)
			if err != nil {
				pollErr = err
				return
			}
			res.Found = len(items)
			rep := e.deliverItems(ctx, kind, entity, items)
			res.Delivered, res.Failed = rep.Delivered, rep.Failed
		})
	case e.statuses[kind] != nil:
		e.withEntityLock(kind, entity, func() {
			st, fired, err := e.statuses[kind].Poll(fctx, entity)
			if err != nil {
				pollErr = err
				return
			}
			if !fired {
				return
			}
			res.Found = 1
			rep := e.disp.Deliver(ctx, kind, entity, st.Render())
			res.Delivered, res.Failed = rep.Delivered, rep.Failed
		})
	case e.dailies[kind] != nil:
		content, err := e.dailies[kind].Fetch(fctx, entity)
		if err != nil {
			pollErr = err
			break
		}
		res.Found = 1
		rep := e.disp.Deliver(ctx, kind, entity, content)
		res.Delivered, res.Failed = rep.Delivered, rep.Failed
	default:
		return CheckResult{}, ErrUnknownKind
	}

	if pollErr != nil {
		return CheckResult{}, pollErr
	}
	return res, nil
}

// ---- ticks ----

// tickFeed processes every subscribed entity of the kind sequentially.
// Fetch failures are local: logged, baseline untouched, next entity.
func (e *Engine) tickFeed(ctx context.Context, kind subs.Kind) error {
	p := e.feeds[kind]
	entities := e.store.Entities(kind)
	if len(entities) == 0 {
		return nil
	}
	e.log.Debug("tick", logx.String("kind", string(kind)), logx.Int("entities", len(entities)))

	for _, entity := range entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.withEntityLock(kind, entity, func() {
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			items, err := p.Poll(fctx, entity)
			cancel()
			if err != nil {
				e.log.Warn("poll failed",
					logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
				return
			}
			if len(items) == 0 {
				return
			}
			rep := e.deliverItems(ctx, kind, entity, items)
			e.log.Info("new items delivered",
				logx.String("kind", string(kind)), logx.String("entity", entity),
				logx.Int("items", len(items)), logx.Int("groups", rep.Groups), logx.Int("failed", rep.Failed))
		})
	}
	return nil
}

func (e *Engine) tickStatus(ctx context.Context, kind subs.Kind) error {
	p := e.statuses[kind]
	entities := e.store.Entities(kind)
	if len(entities) == 0 {
		return nil
	}

	for _, entity := range entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.withEntityLock(kind, entity, func() {
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			st, fired, err := p.Poll(fctx, entity)
			cancel()
			if err != nil {
				e.log.Warn("poll failed",
					logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
				return
			}
			if !fired {
				return
			}
			rep := e.disp.Deliver(ctx, kind, entity, st.Render())
			e.log.Info("broadcast went live",
				logx.String("kind", string(kind)), logx.String("entity", entity),
				logx.Int("groups", rep.Groups), logx.Int("failed", rep.Failed))
		})
	}
	return nil
}

func (e *Engine) tickDaily(ctx context.Context, kind subs.Kind) error {
	src := e.dailies[kind]
	entities := e.store.Entities(kind)
	if len(entities) == 0 {
		return nil
	}

	for _, entity := range entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		content, err := src.Fetch(fctx, entity)
		cancel()
		if err != nil {
			e.log.Warn("daily fetch failed",
				logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
			continue
		}
		rep := e.disp.Deliver(ctx, kind, entity, content)
		e.log.Info("daily push delivered",
			logx.String("kind", string(kind)), logx.String("entity", entity),
			logx.Int("groups", rep.Groups), logx.Int("failed", rep.Failed))
	}
	return nil
}

// deliverItems fans items out in the order the poll reported them
// (newest first).
func (e *Engine) deliverItems(ctx context.Context, kind subs.Kind, entity string, items []FeedItem) DeliveryReport {
	var total DeliveryReport
	for _, it := range items {
		total = total.merge(e.disp.Deliver(ctx, kind, entity, it.Render()))
	}
	return total
}

func (e *Engine) knownKind(kind subs.Kind) bool {
	if _, ok := e.feeds[kind]; ok {
		return true
	}
	if _, ok := e.statuses[kind]; ok {
		return true
	}
	_, ok := e.dailies[kind]
	return ok
}

func (e *Engine) seederFor(kind subs.Kind) func(ctx context.Context, entity string) error {
	if p, ok := e.feeds[kind]; ok {
		return p.Seed
	}
	if p, ok := e.statuses[kind]; ok {
		return p.Seed
	}
	return nil
}

// withEntityLock serializes work per (kind, entity): a manual check and a
// scheduled tick touching the same entity take the same lock.
func (e *Engine) withEntityLock(kind subs.Kind, entity string, fn func()) {
	key := string(kind) + "/" + entity
	e.lockMu.Lock()
	l := e.locks[key]
	if l == nil {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	fn()
}
