package subs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"kibot/pkg/logx"
)

// memStore is an in-memory storage.Store with an optional write failure.
type memStore struct {
	docs    map[string]json.RawMessage
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]json.RawMessage{}}
}

func (m *memStore) Read(_ context.Context, collection string, v any) (bool, error) {
	raw, ok := m.docs[collection]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memStore) Write(_ context.Context, collection string, v any) error {
	if m.failPut {
		return errors.New("disk full")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.docs[collection] = b
	return nil
}

func (m *memStore) Close() error { return nil }

func TestSubscribeIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	ctx := context.Background()

	added, err := s.Subscribe(ctx, "feed", 1, "42")
	if err != nil || !added {
		t.Fatalf("first subscribe = (%v, %v), want (true, nil)", added, err)
	}
	added, err = s.Subscribe(ctx, "feed", 1, "42")
	if err != nil || added {
		t.Fatalf("second subscribe = (%v, %v), want (false, nil)", added, err)
	}
	if got := s.Subscriptions("feed", 1); len(got) != 1 || got[0] != "42" {
		t.Fatalf("Subscriptions = %v, want [42]", got)
	}
}

func TestSubscriptionsInsertionOrder(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	ctx := context.Background()

	for _, e := range []string{"c", "a", "b"} {
		if _, err := s.Subscribe(ctx, "rss", 7, e); err != nil {
			t.Fatalf("subscribe %s: %v", e, err)
		}
	}
	got := s.Subscriptions("rss", 7)
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Subscriptions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Subscriptions = %v, want %v", got, want)
		}
	}
}

func TestSubscribeRollbackOnPersistFailure(t *testing.T) {
	t.Parallel()
	db := newMemStore()
	s := NewStore(db, logx.Nop())
	ctx := context.Background()

	db.failPut = true
	added, err := s.Subscribe(ctx, "feed", 1, "42")
	if err == nil || added {
		t.Fatalf("subscribe with failing store = (%v, %v), want (false, error)", added, err)
	}
	if s.IsSubscribed("feed", 1, "42") {
		t.Fatal("membership visible after failed persist")
	}

	db.failPut = false
	if _, err := s.Subscribe(ctx, "feed", 1, "42"); err != nil {
		t.Fatalf("subscribe after recovery: %v", err)
	}
	db.failPut = true
	removed, err := s.Unsubscribe(ctx, "feed", 1, "42")
	if err == nil || removed {
		t.Fatalf("unsubscribe with failing store = (%v, %v), want (false, error)", removed, err)
	}
	if !s.IsSubscribed("feed", 1, "42") {
		t.Fatal("membership lost after failed unsubscribe persist")
	}
}

func TestUnsubscribePrunesOrphanBaseline(t *testing.T) {
	t.Parallel()
	s := NewStore(newMemStore(), logx.Nop())
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "feed", 1, "42"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Subscribe(ctx, "feed", 2, "42"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBaseline(ctx, "feed", "42", SeqBaseline("d100")); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Unsubscribe(ctx, "feed", 1, "42"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Baseline("feed", "42"); !ok {
		t.Fatal("baseline pruned while another group still subscribes the entity")
	}

	if _, err := s.Unsubscribe(ctx, "feed", 2, "42"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Baseline("feed", "42"); ok {
		t.Fatal("baseline not pruned after last unsubscribe")
	}
}

func TestEntitiesDistinctAcrossGroups(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	ctx := context.Background()

	for _, g := range []int64{1, 2, 3} {
		if _, err := s.Subscribe(ctx, "live", g, "9"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Subscribe(ctx, "live", 2, "5"); err != nil {
		t.Fatal(err)
	}

	got := s.Entities("live")
	if len(got) != 2 || got[0] != "5" || got[1] != "9" {
		t.Fatalf("Entities = %v, want [5 9]", got)
	}
	groups := s.Groups("live", "9")
	if len(groups) != 3 || groups[0] != 1 || groups[2] != 3 {
		t.Fatalf("Groups = %v, want [1 2 3]", groups)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()
	db := newMemStore()
	ctx := context.Background()

	s1 := NewStore(db, logx.Nop())
	if _, err := s1.Subscribe(ctx, "feed", -100123, "42"); err != nil {
		t.Fatal(err)
	}
	if err := s1.SetBaseline(ctx, "feed", "42", SeqBaseline("d7")); err != nil {
		t.Fatal(err)
	}
	if err := s1.SetBaseline(ctx, "live", "9", StatusBaseline(true)); err != nil {
		t.Fatal(err)
	}

	s2 := NewStore(db, logx.Nop())
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s2.IsSubscribed("feed", -100123, "42") {
		t.Fatal("subscription lost across reload")
	}
	b, ok := s2.Baseline("feed", "42")
	if !ok || b.Seq != "d7" {
		t.Fatalf("feed baseline = (%+v, %v), want seq d7", b, ok)
	}
	b, ok = s2.Baseline("live", "9")
	if !ok || b.Active == nil || !*b.Active {
		t.Fatalf("live baseline = (%+v, %v), want active=true", b, ok)
	}
}

func TestBaselineShapes(t *testing.T) {
	t.Parallel()
	if !(Baseline{}).IsZero() {
		t.Fatal("zero baseline should be zero")
	}
	if SeqBaseline("x").IsZero() || StatusBaseline(false).IsZero() {
		t.Fatal("populated baselines should not be zero")
	}
}
