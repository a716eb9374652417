// Package bangumi provides the daily anime broadcast slate, sourced from
// the bilibili pgc timeline API. The slate is global, so the source uses a
// single constant entity and groups simply subscribe to it.
package bangumi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kibot/internal/transport"
)

// Entity is the sole entity identifier for the slate. Subscribing a group
// to the slate always uses this value.
const Entity = "daily"

const timelineURL = "https://api.bilibili.com/pgc/web/timeline?types=1&before=0&after=0"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type Config struct {
	Timeout time.Duration
}

// Source implements push.DailySource.
type Source struct {
	http *http.Client
}

func New(cfg Config) *Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{http: &http.Client{Timeout: timeout}}
}

type timelineDay struct {
	Date      string            `json:"date"`
	DayOfWeek int               `json:"day_of_week"`
	IsToday   int               `json:"is_today"`
	Episodes  []timelineEpisode `json:"episodes"`
}

type timelineEpisode struct {
	Title    string `json:"title"`
	PubTime  string `json:"pub_time"`
	PubIndex string `json:"pub_index"`
	Follows  string `json:"follows"`
}

// Fetch returns today's broadcast slate. The entity argument is ignored
// beyond validation since the slate is not parameterized.
func (s *Source) Fetch(ctx context.Context, entity string) (transport.Content, error) {
	if entity != Entity {
		return transport.Content{}, fmt.Errorf("unknown slate entity %q", entity)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, timelineURL, nil)
	if err != nil {
		return transport.Content{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return transport.Content{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transport.Content{}, fmt.Errorf("timeline: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transport.Content{}, err
	}

	var env struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Result  []timelineDay `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return transport.Content{}, fmt.Errorf("timeline: decode: %w", err)
	}
	if env.Code != 0 {
		return transport.Content{}, fmt.Errorf("timeline: api code %d: %s", env.Code, env.Message)
	}

	today := pickToday(env.Result)
	if today == nil {
		return transport.Content{}, fmt.Errorf("timeline: no entry for today")
	}
	return renderDay(*today), nil
}

// pickToday prefers the day flagged is_today by the API and falls back to
// nothing; the API always marks exactly one day in practice.
func pickToday(days []timelineDay) *timelineDay {
	for i := range days {
		if days[i].IsToday == 1 {
			return &days[i]
		}
	}
	return nil
}

func renderDay(day timelineDay) transport.Content {
	var b strings.Builder
	fmt.Fprintf(&b, "📺 Today's anime schedule (%s)", day.Date)
	if len(day.Episodes) == 0 {
		b.WriteString("\n\nNothing airing today.")
		return transport.Content{Text: b.String()}
	}
	for _, ep := range day.Episodes {
		fmt.Fprintf(&b, "\n\n%s  %s", ep.PubTime, ep.Title)
		if ep.PubIndex != "" {
			fmt.Fprintf(&b, " (%s)", ep.PubIndex)
		}
	}
	return transport.Content{Text: b.String()}
}
