package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kibot/internal/push"
	"kibot/internal/source/bangumi"
	"kibot/internal/source/rss"
	"kibot/internal/subs"
	"kibot/internal/transport"
	"kibot/pkg/logx"
)

// The command surface is deliberately thin: subscribe, unsubscribe, list,
// and on-demand check. Anything fancier belongs in a real command router.
//
//	/sub <kind> [entity]
//	/unsub <kind> [entity]
//	/subs
//	/check <kind> [entity]

const commandTimeout = 60 * time.Second

func (a *App) commandLoop(ctx context.Context) {
	log := a.log.With(logx.String("comp", "commands"))
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			m := up.Message
			if m == nil || !m.IsGroup || !strings.HasPrefix(m.Text, "/") {
				continue
			}
			cctx, cancel := context.WithTimeout(ctx, commandTimeout)
			reply := a.handleCommand(cctx, m)
			if reply != "" {
				target := transport.GroupTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
				if err := a.adapter.SendText(cctx, target, reply, nil); err != nil {
					log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
				}
			}
			cancel()
		}
	}
}

func (a *App) handleCommand(ctx context.Context, m *transport.Message) string {
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return ""
	}
	// Strip the @botname suffix telegram appends in groups.
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/sub":
		return a.cmdSubscribe(ctx, m.ChatID, args)
	case "/unsub":
		return a.cmdUnsubscribe(ctx, m.ChatID, args)
	case "/subs":
		return a.cmdList(m.ChatID)
	case "/check":
		return a.cmdCheck(ctx, args)
	default:
		return ""
	}
}

func (a *App) cmdSubscribe(ctx context.Context, group int64, args []string) string {
	kind, entity, errMsg := parseKindEntity(args)
	if errMsg != "" {
		return errMsg
	}
	if msg := a.validateEntity(ctx, kind, entity); msg != "" {
		return msg
	}
	added, err := a.engine.Subscribe(ctx, kind, group, entity)
	if err != nil {
		a.log.Warn("subscribe failed",
			logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
		return "Subscription failed, please try again later."
	}
	if !added {
		return "Already subscribed."
	}
	return fmt.Sprintf("Subscribed to %s %s.", kind, entity)
}

func (a *App) cmdUnsubscribe(ctx context.Context, group int64, args []string) string {
	kind, entity, errMsg := parseKindEntity(args)
	if errMsg != "" {
		return errMsg
	}
	removed, err := a.engine.Unsubscribe(ctx, kind, group, entity)
	if err != nil {
		a.log.Warn("unsubscribe failed",
			logx.String("kind", string(kind)), logx.String("entity", entity), logx.Err(err))
		return "Unsubscribe failed, please try again later."
	}
	if !removed {
		return "Not subscribed."
	}
	return fmt.Sprintf("Unsubscribed from %s %s.", kind, entity)
}

func (a *App) cmdList(group int64) string {
	var b strings.Builder
	b.WriteString("Subscriptions for this group:")
	empty := true
	for _, kind := range []subs.Kind{KindFeed, KindLive, KindRSS, KindSlate, KindWeather} {
		entities := a.engine.Subscriptions(kind, group)
		if len(entities) == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(&b, "\n\n%s:", kind)
		for _, e := range entities {
			fmt.Fprintf(&b, "\n  %s", e)
		}
	}
	if empty {
		return "This group has no subscriptions."
	}
	return b.String()
}

func (a *App) cmdCheck(ctx context.Context, args []string) string {
	kind, entity, errMsg := parseKindEntity(args)
	if errMsg != "" {
		return errMsg
	}
	res, err := a.engine.CheckNow(ctx, kind, entity)
	if err != nil {
		if err == push.ErrUnknownKind {
			return "Unknown source kind."
		}
		return fmt.Sprintf("Check failed: %v", err)
	}
	if res.Found == 0 {
		return "Nothing new."
	}
	return fmt.Sprintf("Found %d update(s); delivered to %d group(s), %d failed.",
		res.Found, res.Delivered, res.Failed)
}

// parseKindEntity maps the raw args to a (kind, entity) pair. The slate has
// a fixed entity, so its arg is optional.
func parseKindEntity(args []string) (subs.Kind, string, string) {
	if len(args) == 0 {
		return "", "", "Usage: <kind> [entity], where kind is feed, live, rss, slate or weather."
	}
	kind := subs.Kind(strings.ToLower(args[0]))
	switch kind {
	case KindSlate:
		return kind, bangumi.Entity, ""
	case KindFeed, KindLive, KindRSS, KindWeather:
		if len(args) < 2 {
			return "", "", fmt.Sprintf("Kind %s needs an entity argument.", kind)
		}
		return kind, args[1], ""
	default:
		return "", "", "Unknown source kind. Valid kinds: feed, live, rss, slate, weather."
	}
}

// validateEntity rejects obviously bad entities before they are stored.
func (a *App) validateEntity(ctx context.Context, kind subs.Kind, entity string) string {
	switch kind {
	case KindFeed, KindLive:
		if _, err := strconv.ParseInt(entity, 10, 64); err != nil {
			return "The entity must be a numeric user id."
		}
	case KindRSS:
		if err := rss.ValidateURL(entity); err != nil {
			return "That does not look like a feed URL."
		}
	case KindWeather:
		ok, err := a.weather.CheckLocation(ctx, entity)
		if err != nil {
			a.log.Warn("city lookup failed", logx.String("city", entity), logx.Err(err))
			return "Could not verify that city, please try again later."
		}
		if !ok {
			return "Unknown city."
		}
	}
	return ""
}
