// Package rss turns arbitrary RSS/Atom feeds into a pollable feed source.
// Entities are feed URLs; item identity is the entry GUID when present,
// falling back to the entry link.
package rss

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"kibot/internal/push"
	"kibot/internal/transport"
)

type Config struct {
	Timeout time.Duration
}

// Source implements push.FeedSource over gofeed.
type Source struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

func New(cfg Config) *Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	p := gofeed.NewParser()
	p.UserAgent = "kibot/1.0"
	return &Source{parser: p, timeout: timeout}
}

// ValidateURL rejects entities that cannot possibly be feed URLs before
// they are stored.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid feed url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("feed url missing host")
	}
	return nil
}

// Fetch returns the feed's entries newest-first.
func (s *Source) Fetch(ctx context.Context, feedURL string) ([]push.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	items := make([]push.FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		items = append(items, entry{feedTitle: feed.Title, item: it})
	}
	// Feeds mostly arrive newest-first already, but that is convention,
	// not contract. Sort by published time when the feed provides it.
	sort.SliceStable(items, func(i, j int) bool {
		ti := items[i].(entry).published()
		tj := items[j].(entry).published()
		return ti.After(tj)
	})
	return items, nil
}

type entry struct {
	feedTitle string
	item      *gofeed.Item
}

func (e entry) ID() string {
	if e.item.GUID != "" {
		return e.item.GUID
	}
	return e.item.Link
}

func (e entry) Render() transport.Content {
	var b strings.Builder
	fmt.Fprintf(&b, "📰 %s", orUntitled(e.feedTitle))
	fmt.Fprintf(&b, "\n\n%s", orUntitled(e.item.Title))
	if e.item.Link != "" {
		fmt.Fprintf(&b, "\n%s", e.item.Link)
	}

	var images []string
	if e.item.Image != nil && e.item.Image.URL != "" {
		images = append(images, e.item.Image.URL)
	}
	return transport.Content{Text: b.String(), Images: images}
}

func (e entry) published() time.Time {
	if e.item.PublishedParsed != nil {
		return *e.item.PublishedParsed
	}
	if e.item.UpdatedParsed != nil {
		return *e.item.UpdatedParsed
	}
	return time.Time{}
}

func orUntitled(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(untitled)"
	}
	return s
}
