package bilibili

import (
	"context"
	"fmt"
	"strconv"

	"kibot/internal/push"
	"kibot/internal/transport"
)

// LiveSource adapts the live room status API to the push.StatusSource
// contract. Entities are creator UIDs; a creator without a room reports
// inactive rather than an error.
type LiveSource struct {
	client *Client
}

func NewLiveSource(client *Client) *LiveSource {
	return &LiveSource{client: client}
}

func (s *LiveSource) Fetch(ctx context.Context, entity string) (push.Status, error) {
	mid, err := strconv.ParseInt(entity, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad creator uid %q: %w", entity, err)
	}
	room, err := s.client.LiveRoomStatus(ctx, mid)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return liveStatus{}, nil
	}
	return liveStatus{room: *room, hasRoom: true}, nil
}

type liveStatus struct {
	room    LiveRoom
	hasRoom bool
}

func (s liveStatus) Active() bool { return s.hasRoom && s.room.IsLiving() }

func (s liveStatus) Render() transport.Content { return renderLiveRoom(s.room) }
