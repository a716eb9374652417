package bilibili

import (
	"context"
	"fmt"
	"strconv"

	"kibot/internal/push"
	"kibot/internal/transport"
)

// FeedSource adapts the dynamics API to the push.FeedSource contract.
// Entities are creator UIDs in decimal form.
type FeedSource struct {
	client *Client
}

func NewFeedSource(client *Client) *FeedSource {
	return &FeedSource{client: client}
}

func (s *FeedSource) Fetch(ctx context.Context, entity string) ([]push.FeedItem, error) {
	mid, err := strconv.ParseInt(entity, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad creator uid %q: %w", entity, err)
	}
	dynamics, err := s.client.UserDynamics(ctx, mid)
	if err != nil {
		return nil, err
	}
	items := make([]push.FeedItem, 0, len(dynamics))
	for _, d := range dynamics {
		items = append(items, feedItem{d: d})
	}
	return items, nil
}

type feedItem struct {
	d DynamicItem
}

func (it feedItem) ID() string { return it.d.IDStr }

func (it feedItem) Render() transport.Content {
	content := renderDynamic(it.d)
	content.Text = "📢 A creator you follow posted an update\n\n" + content.Text
	return content
}
