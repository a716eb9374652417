package push

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kibot/internal/subs"
	"kibot/internal/transport"
	"kibot/pkg/logx"
)

// maxRichImages caps how many images ride along in the combined message;
// a degraded delivery still sends every image individually.
const maxRichImages = 4

type DispatcherConfig struct {
	RatePerSec  int
	SendTimeout time.Duration
}

// Dispatcher fans one piece of rendered content out to every group
// subscribed to the producing entity. Groups are resolved at delivery time,
// so a just-unsubscribed group may still receive one in-flight delivery.
//
// Each group's delivery is an independent unit of work with its own failure
// boundary: the rich combined message is tried first, then a degraded
// per-segment fallback, and a group that fails both is logged and skipped.
type Dispatcher struct {
	store  *subs.Store
	sender transport.Sender
	log    logx.Logger

	mu          sync.Mutex
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig, store *subs.Store, sender transport.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{store: store, sender: sender, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps the rate limit and send timeout at runtime.
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d.mu.Lock()
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	d.sendTimeout = timeout
	d.mu.Unlock()
}

// Deliver sends content to every group subscribed to the entity. One slow
// or failing group never blocks the others.
func (d *Dispatcher) Deliver(ctx context.Context, kind subs.Kind, entity string, content transport.Content) DeliveryReport {
	groups := d.store.Groups(kind, entity)
	report := DeliveryReport{Groups: len(groups)}
	if len(groups) == 0 {
		return report
	}

	d.mu.Lock()
	lim := d.limiter
	timeout := d.sendTimeout
	d.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []int64
	)
	wg.Add(len(groups))
	for _, gid := range groups {
		gid := gid
		go func() {
			defer wg.Done()
			if err := lim.Wait(ctx); err != nil {
				d.log.Warn("delivery abandoned before send",
					logx.String("kind", string(kind)), logx.String("entity", entity),
					logx.Int64("group", gid), logx.Err(err))
				mu.Lock()
				failed = append(failed, gid)
				mu.Unlock()
				return
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := d.deliverOne(sctx, transport.GroupTarget{ChatID: gid}, content); err != nil {
				d.log.Warn("delivery failed",
					logx.String("kind", string(kind)), logx.String("entity", entity),
					logx.Int64("group", gid), logx.Err(err))
				mu.Lock()
				failed = append(failed, gid)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	report.Failed = len(failed)
	report.Delivered = len(groups) - len(failed)
	report.FailedGroups = failed
	return report
}

// deliverOne tries the rich combined message, then falls back to degraded
// delivery: the text alone, then each image as its own message. The
// degraded path counts as delivered as long as the text got through.
func (d *Dispatcher) deliverOne(ctx context.Context, to transport.GroupTarget, content transport.Content) error {
	richErr := d.sender.SendSegments(ctx, to, content.Segments(maxRichImages), nil)
	if richErr == nil {
		return nil
	}
	d.log.Debug("rich delivery failed; falling back to degraded",
		logx.Int64("group", to.ChatID), logx.Err(richErr))

	if err := d.sender.SendText(ctx, to, content.Text, nil); err != nil {
		return err
	}
	for _, img := range content.Images {
		if img == "" {
			continue
		}
		seg := []transport.Segment{{Kind: transport.SegmentImage, Image: img}}
		if err := d.sender.SendSegments(ctx, to, seg, nil); err != nil {
			d.log.Warn("degraded image delivery failed",
				logx.Int64("group", to.ChatID), logx.Err(err))
		}
	}
	return nil
}
