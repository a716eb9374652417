package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"kibot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		hour    int
		minute  int
		wantErr bool
	}{
		{raw: "08:00", hour: 8, minute: 0},
		{raw: "23:59", hour: 23, minute: 59},
		{raw: " 7:30 ", hour: 7, minute: 30},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "noon", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := ParseHHMM(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseHHMM(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseHHMM(%q) error: %v", tt.raw, err)
		}
		if h != tt.hour || m != tt.minute {
			t.Fatalf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.hour, tt.minute)
		}
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	noop := func(ctx context.Context) error { return nil }

	if err := s.AddInterval("j", 0, 0, noop); err == nil {
		t.Fatal("zero interval accepted")
	}
	if err := s.AddInterval("", time.Minute, 0, noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.AddInterval("j", time.Minute, 0, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.AddDaily("j", "25:00", 0, noop); err == nil {
		t.Fatal("bad wall-clock time accepted")
	}
	if err := s.AddDaily("j", "08:00", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
}

func TestAddUpsertAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	noop := func(ctx context.Context) error { return nil }

	if err := s.AddInterval("job", time.Minute, 0, noop); err != nil {
		t.Fatal(err)
	}
	// Re-adding under the same name replaces, not duplicates.
	if err := s.AddInterval("job", 2*time.Minute, 0, noop); err != nil {
		t.Fatal(err)
	}
	if n := len(s.defs); n != 1 {
		t.Fatalf("defs = %d, want 1 after upsert", n)
	}
	if !s.Remove("job") {
		t.Fatal("Remove returned false for existing job")
	}
	if s.Remove("job") {
		t.Fatal("Remove returned true for absent job")
	}
}

func TestIntervalJobRunsAndStopDrains(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())

	var runs atomic.Int64
	err := s.AddInterval("tick", time.Second, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(5 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	// After a drained stop the service accepts a clean restart.
	s.Start(ctx)
	s.Stop(stopCtx)
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 2}, logx.Nop())

	var (
		started atomic.Int64
		release = make(chan struct{})
	)
	err := s.AddInterval("slow", time.Second, 0, func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Let several fires elapse while the first run blocks; overlapping
	// fires must be skipped, so only one run ever starts.
	deadline := time.After(5 * time.Second)
	for started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never started")
		case <-time.After(50 * time.Millisecond):
		}
	}
	time.Sleep(2500 * time.Millisecond)
	if n := started.Load(); n != 1 {
		t.Fatalf("started = %d runs, want 1 (overlaps skipped)", n)
	}
	close(release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestOverlapSkipWhileQueued(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 2}, logx.Nop())

	// Two blocking jobs occupy both workers so the third job's task sits in
	// the queue; fires arriving while it is queued must be skipped, not
	// enqueued again, or the freed workers would run two copies at once.
	release := make(chan struct{})
	hold := func(ctx context.Context) error {
		<-release
		return nil
	}
	if err := s.AddInterval("hold-a", time.Second, 0, hold); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInterval("hold-b", time.Second, 0, hold); err != nil {
		t.Fatal(err)
	}

	var cur, peak atomic.Int64
	err := s.AddInterval("queued", time.Second, 0, func(ctx context.Context) error {
		c := cur.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
		cur.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Several fires elapse while the workers are held.
	time.Sleep(2500 * time.Millisecond)
	close(release)

	deadline := time.After(5 * time.Second)
	for peak.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("queued job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}
	time.Sleep(500 * time.Millisecond)
	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrency = %d, want 1 (queued fires must not duplicate)", p)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}
