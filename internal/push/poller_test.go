package push

import (
	"context"
	"errors"
	"testing"

	"kibot/internal/subs"
	"kibot/internal/transport"
	"kibot/pkg/logx"
)

type fakeItem string

func (f fakeItem) ID() string                { return string(f) }
func (f fakeItem) Render() transport.Content { return transport.Content{Text: string(f)} }

// fakeFeed serves a fixed newest-first item list per entity.
type fakeFeed struct {
	items map[string][]FeedItem
	err   error
}

func (f *fakeFeed) Fetch(_ context.Context, entity string) ([]FeedItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[entity], nil
}

func feedOf(ids ...string) []FeedItem {
	out := make([]FeedItem, len(ids))
	for i, id := range ids {
		out[i] = fakeItem(id)
	}
	return out
}

func ids(items []FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID()
	}
	return out
}

func newFeedPoller(src FeedSource, store *subs.Store, cap int) *feedPoller {
	return &feedPoller{kind: "feed", src: src, store: store, log: logx.Nop(), maxBacklog: cap}
}

func TestFeedPollTruncatesAtBaseline(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{items: map[string][]FeedItem{"u": feedOf("A", "B", "C", "D")}}
	p := newFeedPoller(src, store, 10)

	if err := store.SetBaseline(ctx, "feed", "u", subs.SeqBaseline("C")); err != nil {
		t.Fatal(err)
	}
	fresh, err := p.Poll(ctx, "u")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got := ids(fresh)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("fresh = %v, want [A B]", got)
	}
	b, ok := store.Baseline("feed", "u")
	if !ok || b.Seq != "A" {
		t.Fatalf("baseline = (%+v, %v), want seq A", b, ok)
	}
}

func TestFeedPollBaselineGoneTreatsAllAsNew(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{items: map[string][]FeedItem{"u": feedOf("A", "B", "C")}}
	p := newFeedPoller(src, store, 10)

	// The item the baseline points at was deleted upstream.
	if err := store.SetBaseline(ctx, "feed", "u", subs.SeqBaseline("Z")); err != nil {
		t.Fatal(err)
	}
	fresh, err := p.Poll(ctx, "u")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("fresh = %v, want the whole list", ids(fresh))
	}
}

func TestFeedPollBacklogCap(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{items: map[string][]FeedItem{"u": feedOf("1", "2", "3", "4", "5")}}
	p := newFeedPoller(src, store, 2)

	fresh, err := p.Poll(ctx, "u")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got := ids(fresh)
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("fresh = %v, want [1 2]", got)
	}
	// Baseline still advances past everything, capped items are dropped,
	// not deferred.
	b, _ := store.Baseline("feed", "u")
	if b.Seq != "1" {
		t.Fatalf("baseline seq = %q, want 1", b.Seq)
	}
}

func TestFeedPollNoNewItems(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{items: map[string][]FeedItem{"u": feedOf("A", "B")}}
	p := newFeedPoller(src, store, 10)

	if err := store.SetBaseline(ctx, "feed", "u", subs.SeqBaseline("A")); err != nil {
		t.Fatal(err)
	}
	fresh, err := p.Poll(ctx, "u")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("fresh = %v, want none", ids(fresh))
	}
}

func TestFeedPollFetchErrorLeavesBaseline(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{err: errors.New("upstream 502")}
	p := newFeedPoller(src, store, 10)

	if err := store.SetBaseline(ctx, "feed", "u", subs.SeqBaseline("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Poll(ctx, "u"); err == nil {
		t.Fatal("expected fetch error")
	}
	b, ok := store.Baseline("feed", "u")
	if !ok || b.Seq != "A" {
		t.Fatalf("baseline = (%+v, %v), want untouched seq A", b, ok)
	}
}

func TestFeedSeed(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	src := &fakeFeed{items: map[string][]FeedItem{"u": feedOf("X", "Y")}}
	p := newFeedPoller(src, store, 10)

	if err := p.Seed(ctx, "u"); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	b, ok := store.Baseline("feed", "u")
	if !ok || b.Seq != "X" {
		t.Fatalf("baseline = (%+v, %v), want seq X", b, ok)
	}

	// Seeding an entity with no items leaves the baseline absent.
	empty := newFeedPoller(&fakeFeed{}, store, 10)
	if err := empty.Seed(ctx, "v"); err != nil {
		t.Fatalf("Seed empty: %v", err)
	}
	if _, ok := store.Baseline("feed", "v"); ok {
		t.Fatal("empty seed should not create a baseline")
	}
}

type fakeStatus struct {
	active bool
	err    error
}

func (f *fakeStatus) Fetch(_ context.Context, _ string) (Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	return statusVal(f.active), nil
}

type statusVal bool

func (s statusVal) Active() bool              { return bool(s) }
func (s statusVal) Render() transport.Content { return transport.Content{Text: "live!"} }

func TestStatusPollTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		prev  *bool
		cur   bool
		fired bool
	}{
		{name: "off to on fires", prev: boolPtr(false), cur: true, fired: true},
		{name: "on to on silent", prev: boolPtr(true), cur: true, fired: false},
		{name: "on to off silent", prev: boolPtr(true), cur: false, fired: false},
		{name: "off to off silent", prev: boolPtr(false), cur: false, fired: false},
		{name: "absent baseline seeds only", prev: nil, cur: true, fired: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := subs.NewStore(nil, logx.Nop())
			ctx := context.Background()
			if tt.prev != nil {
				if err := store.SetBaseline(ctx, "live", "u", subs.StatusBaseline(*tt.prev)); err != nil {
					t.Fatal(err)
				}
			}
			p := &statusPoller{kind: "live", src: &fakeStatus{active: tt.cur}, store: store, log: logx.Nop()}

			_, fired, err := p.Poll(ctx, "u")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if fired != tt.fired {
				t.Fatalf("fired = %v, want %v", fired, tt.fired)
			}
			b, ok := store.Baseline("live", "u")
			if !ok || b.Active == nil || *b.Active != tt.cur {
				t.Fatalf("baseline = (%+v, %v), want active=%v", b, ok, tt.cur)
			}
		})
	}
}

func TestStatusPollFetchErrorLeavesBaseline(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	ctx := context.Background()
	if err := store.SetBaseline(ctx, "live", "u", subs.StatusBaseline(true)); err != nil {
		t.Fatal(err)
	}
	p := &statusPoller{kind: "live", src: &fakeStatus{err: errors.New("down")}, store: store, log: logx.Nop()}

	if _, _, err := p.Poll(ctx, "u"); err == nil {
		t.Fatal("expected fetch error")
	}
	b, ok := store.Baseline("live", "u")
	if !ok || b.Active == nil || !*b.Active {
		t.Fatalf("baseline = (%+v, %v), want untouched active=true", b, ok)
	}
}

func boolPtr(b bool) *bool { return &b }
