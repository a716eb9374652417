// Package telegram adapts the Telegram Bot API (via telebot) to the
// transport.Adapter contract. Nothing outside this package sees telebot types.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"kibot/internal/transport"
	"kibot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		up := transport.Update{
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		}
		select {
		case out <- up:
		default:
			atomic.AddUint64(&a.droppedUpdates, 1)
		}
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// sendCtx bridges telebot's context-free API to the caller's deadline: the
// call runs on its own goroutine and the caller stops waiting when ctx ends.
// An abandoned call still finishes in the background; telebot's own HTTP
// timeout bounds how long that takes.
func sendCtx(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.GroupTarget, text string, opt *transport.SendOptions) error {
	return sendCtx(ctx, func() error {
		_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(to, opt))
		return err
	})
}

// SendSegments delivers the segments as one combined message: a lone text
// segment becomes a text message, a single image becomes a captioned photo,
// multiple images become an album with the text as the first caption.
func (a *Adapter) SendSegments(ctx context.Context, to transport.GroupTarget, segs []transport.Segment, opt *transport.SendOptions) error {
	var text string
	var images []string
	for _, s := range segs {
		switch s.Kind {
		case transport.SegmentText:
			if text == "" {
				text = s.Text
			} else {
				text += "\n" + s.Text
			}
		case transport.SegmentImage:
			if s.Image != "" {
				images = append(images, s.Image)
			}
		}
	}

	chat := &tele.Chat{ID: to.ChatID}
	switch {
	case len(images) == 0:
		if text == "" {
			return nil
		}
		return sendCtx(ctx, func() error {
			_, err := a.bot.Send(chat, text, sendOptions(to, opt))
			return err
		})
	case len(images) == 1:
		photo := &tele.Photo{File: imageFile(images[0]), Caption: text}
		return sendCtx(ctx, func() error {
			_, err := a.bot.Send(chat, photo, sendOptions(to, opt))
			return err
		})
	default:
		album := make(tele.Album, 0, len(images))
		for i, img := range images {
			photo := &tele.Photo{File: imageFile(img)}
			if i == 0 {
				photo.Caption = text
			}
			album = append(album, photo)
		}
		return sendCtx(ctx, func() error {
			_, err := a.bot.SendAlbum(chat, album, sendOptions(to, opt))
			return err
		})
	}
}

func imageFile(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.FromDisk(ref)
}

func sendOptions(to transport.GroupTarget, opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
}
