package push

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kibot/internal/subs"
	"kibot/internal/transport"
	"kibot/pkg/logx"
)

// fakeSender records sends and can fail selectively.
type fakeSender struct {
	mu       sync.Mutex
	texts    map[int64][]string
	segments map[int64][][]transport.Segment
	failRich map[int64]bool // SendSegments fails for these chats
	failText map[int64]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		texts:    map[int64][]string{},
		segments: map[int64][][]transport.Segment{},
		failRich: map[int64]bool{},
		failText: map[int64]bool{},
	}
}

func (f *fakeSender) SendText(_ context.Context, to transport.GroupTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText[to.ChatID] {
		return errors.New("send text failed")
	}
	f.texts[to.ChatID] = append(f.texts[to.ChatID], text)
	return nil
}

func (f *fakeSender) SendSegments(_ context.Context, to transport.GroupTarget, segs []transport.Segment, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRich[to.ChatID] {
		return errors.New("send segments failed")
	}
	f.segments[to.ChatID] = append(f.segments[to.ChatID], segs)
	return nil
}

func subscribeGroups(t *testing.T, store *subs.Store, kind subs.Kind, entity string, groups ...int64) {
	t.Helper()
	for _, g := range groups {
		if _, err := store.Subscribe(context.Background(), kind, g, entity); err != nil {
			t.Fatalf("subscribe group %d: %v", g, err)
		}
	}
}

func TestDeliverFanOutIsolatesFailures(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	subscribeGroups(t, store, "feed", "u", 1, 2, 3)

	sender := newFakeSender()
	sender.failRich[2] = true
	sender.failText[2] = true

	d := NewDispatcher(DispatcherConfig{RatePerSec: 100, SendTimeout: time.Second}, store, sender, logx.Nop())
	rep := d.Deliver(context.Background(), "feed", "u", transport.Content{Text: "hello"})

	if rep.Groups != 3 || rep.Delivered != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v, want 3 groups, 2 delivered, 1 failed", rep)
	}
	if len(rep.FailedGroups) != 1 || rep.FailedGroups[0] != 2 {
		t.Fatalf("FailedGroups = %v, want [2]", rep.FailedGroups)
	}
	if len(sender.segments[1]) != 1 || len(sender.segments[3]) != 1 {
		t.Fatal("healthy groups did not receive the rich message")
	}
}

func TestDeliverDegradedFallback(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	subscribeGroups(t, store, "feed", "u", 5)

	sender := newFakeSender()
	sender.failRich[5] = true // combined message rejected, text path open

	d := NewDispatcher(DispatcherConfig{RatePerSec: 100, SendTimeout: time.Second}, store, sender, logx.Nop())
	content := transport.Content{Text: "post", Images: []string{"http://x/1.jpg", "http://x/2.jpg"}}
	rep := d.Deliver(context.Background(), "feed", "u", content)

	if rep.Delivered != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want degraded delivery counted as delivered", rep)
	}
	if got := sender.texts[5]; len(got) != 1 || got[0] != "post" {
		t.Fatalf("texts = %v, want the bare text", got)
	}
}

func TestDeliverCancelledContextLogged(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	subscribeGroups(t, store, "feed", "u", 7)

	sender := newFakeSender()
	var buf syncBuffer
	d := NewDispatcher(DispatcherConfig{RatePerSec: 100, SendTimeout: time.Second},
		store, sender, logx.NewWriter(&buf, "debug"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := d.Deliver(ctx, "feed", "u", transport.Content{Text: "x"})

	if rep.Delivered != 0 || rep.Failed != 1 {
		t.Fatalf("report = %+v, want the group counted as failed", rep)
	}
	if len(sender.texts[7])+len(sender.segments[7]) != 0 {
		t.Fatal("sender was called after cancellation")
	}
	if out := buf.String(); !strings.Contains(out, "delivery abandoned before send") {
		t.Fatalf("log output %q missing abandonment warning", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDeliverNoSubscribers(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(nil, logx.Nop())
	d := NewDispatcher(DispatcherConfig{}, store, newFakeSender(), logx.Nop())

	rep := d.Deliver(context.Background(), "feed", "ghost", transport.Content{Text: "x"})
	if rep.Groups != 0 || rep.Delivered != 0 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want all zero", rep)
	}
}

func TestContentSegmentsImageCap(t *testing.T) {
	t.Parallel()
	c := transport.Content{
		Text:   "t",
		Images: []string{"1", "2", "3", "4", "5", "6"},
	}
	segs := c.Segments(maxRichImages)
	if len(segs) != 1+maxRichImages {
		t.Fatalf("segments = %d, want %d", len(segs), 1+maxRichImages)
	}
}
