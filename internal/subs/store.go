package subs

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"kibot/internal/storage"
	"kibot/pkg/logx"
)

const (
	collectionSubscriptions = "subscriptions"
	collectionBaselines     = "baselines"
)

// persisted JSON shapes; group IDs become string keys.
type (
	subsDoc      map[string]map[string][]string // kind -> group -> entity ids
	baselinesDoc map[string]map[string]Baseline // kind -> entity -> baseline
)

// Store tracks subscriptions and baselines in memory and mirrors every
// mutation synchronously to the storage backend.
//
// Membership mutations are all-or-nothing: if the persist fails, the
// in-memory change is rolled back and the error returned, so memory and
// disk never disagree in a way the caller observed as committed.
//
// Baseline writes are different (see SetBaseline): a persist failure keeps
// the advanced in-memory value, trading possible re-delivery after a
// restart for not re-delivering within this process.
type Store struct {
	log logx.Logger
	db  storage.Store // nil means memory-only

	mu        sync.Mutex
	subs      map[Kind]map[int64][]string
	baselines map[Kind]map[string]Baseline
}

func NewStore(db storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		log:       log,
		db:        db,
		subs:      map[Kind]map[int64][]string{},
		baselines: map[Kind]map[string]Baseline{},
	}
}

// Load reads both collections from the backend. Missing collections are not
// an error (first run).
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	var sd subsDoc
	if _, err := s.db.Read(ctx, collectionSubscriptions, &sd); err != nil {
		return err
	}
	var bd baselinesDoc
	if _, err := s.db.Read(ctx, collectionBaselines, &bd); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = map[Kind]map[int64][]string{}
	for kind, groups := range sd {
		m := map[int64][]string{}
		for gs, entities := range groups {
			gid, err := strconv.ParseInt(gs, 10, 64)
			if err != nil {
				s.log.Warn("skipping subscription entry with bad group id",
					logx.String("kind", kind), logx.String("group", gs))
				continue
			}
			m[gid] = append([]string(nil), entities...)
		}
		s.subs[Kind(kind)] = m
	}

	s.baselines = map[Kind]map[string]Baseline{}
	for kind, entities := range bd {
		m := map[string]Baseline{}
		for id, b := range entities {
			m[id] = b
		}
		s.baselines[Kind(kind)] = m
	}

	total := 0
	for _, groups := range s.subs {
		for _, entities := range groups {
			total += len(entities)
		}
	}
	s.log.Info("subscription state loaded",
		logx.Int("kinds", len(s.subs)), logx.Int("subscriptions", total))
	return nil
}

// Subscribe adds the membership and reports whether it was newly added.
// Subscribing twice is a no-op (false, nil).
func (s *Store) Subscribe(ctx context.Context, kind Kind, group int64, entity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.subs[kind]
	if groups == nil {
		groups = map[int64][]string{}
		s.subs[kind] = groups
	}
	for _, e := range groups[group] {
		if e == entity {
			return false, nil
		}
	}

	groups[group] = append(groups[group], entity)
	if err := s.persistSubsLocked(ctx); err != nil {
		// roll back
		lst := groups[group]
		groups[group] = lst[:len(lst)-1]
		if len(groups[group]) == 0 {
			delete(groups, group)
		}
		return false, err
	}
	return true, nil
}

// Unsubscribe removes the membership and reports whether it was present.
func (s *Store) Unsubscribe(ctx context.Context, kind Kind, group int64, entity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.subs[kind]
	lst := groups[group]
	idx := -1
	for i, e := range lst {
		if e == entity {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	groups[group] = append(append([]string(nil), lst[:idx]...), lst[idx+1:]...)
	if len(groups[group]) == 0 {
		delete(groups, group)
	}
	if err := s.persistSubsLocked(ctx); err != nil {
		groups[group] = lst
		return false, err
	}

	// Lazily prune the baseline once nothing references the entity.
	// Orphaned baselines are harmless, so a failed prune is only logged.
	if !s.referencedLocked(kind, entity) {
		if m := s.baselines[kind]; m != nil {
			if _, ok := m[entity]; ok {
				delete(m, entity)
				if err := s.persistBaselinesLocked(ctx); err != nil {
					s.log.Warn("baseline prune not persisted",
						logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
				}
			}
		}
	}
	return true, nil
}

// Subscriptions returns the entities the group is subscribed to, in the
// order they were subscribed.
func (s *Store) Subscriptions(kind Kind, group int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subs[kind][group]...)
}

func (s *Store) IsSubscribed(kind Kind, group int64, entity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.subs[kind][group] {
		if e == entity {
			return true
		}
	}
	return false
}

// Entities returns the distinct set of entities referenced by at least one
// subscription of the kind, duplicates across groups collapsed. Sorted for
// deterministic tick order.
func (s *Store) Entities(kind Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	var out []string
	for _, entities := range s.subs[kind] {
		for _, e := range entities {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Groups returns the IDs of every group currently subscribed to the entity,
// sorted. Resolved fresh on each call; callers must not cache across ticks.
func (s *Store) Groups(kind Kind, entity string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int64
	for gid, entities := range s.subs[kind] {
		for _, e := range entities {
			if e == entity {
				out = append(out, gid)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Baseline returns the stored baseline for the entity, if any.
func (s *Store) Baseline(kind Kind, entity string) (Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[kind][entity]
	return b, ok
}

// SetBaseline overwrites the baseline and persists it synchronously.
// On persist failure the in-memory value stays advanced and the error is
// returned: the process keeps suppressing already-seen items, at the cost
// of possibly re-delivering them after a restart.
func (s *Store) SetBaseline(ctx context.Context, kind Kind, entity string, b Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.baselines[kind]
	if m == nil {
		m = map[string]Baseline{}
		s.baselines[kind] = m
	}
	m[entity] = b
	return s.persistBaselinesLocked(ctx)
}

func (s *Store) referencedLocked(kind Kind, entity string) bool {
	for _, entities := range s.subs[kind] {
		for _, e := range entities {
			if e == entity {
				return true
			}
		}
	}
	return false
}

func (s *Store) persistSubsLocked(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	doc := subsDoc{}
	for kind, groups := range s.subs {
		m := map[string][]string{}
		for gid, entities := range groups {
			m[strconv.FormatInt(gid, 10)] = entities
		}
		doc[string(kind)] = m
	}
	return s.db.Write(ctx, collectionSubscriptions, doc)
}

func (s *Store) persistBaselinesLocked(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	doc := baselinesDoc{}
	for kind, entities := range s.baselines {
		m := map[string]Baseline{}
		for id, b := range entities {
			m[id] = b
		}
		doc[string(kind)] = m
	}
	return s.db.Write(ctx, collectionBaselines, doc)
}
