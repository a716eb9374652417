package telegram

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendCtxHonorsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sendCtx(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("sendCtx returned after %v, deadline not honored", took)
	}
}

func TestSendCtxReturnsCallError(t *testing.T) {
	t.Parallel()

	want := errors.New("bad request")
	if err := sendCtx(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if err := sendCtx(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}
