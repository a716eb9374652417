// Package bilibili implements the feed-items and broadcast-status
// collaborators for bilibili creators: the polymer dynamics feed and the
// live room status API.
//
// API shapes follow the community-documented endpoints
// (https://socialsisteryi.github.io/bilibili-API-collect/).
package bilibili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kibot/pkg/logx"
)

const (
	apiBase     = "https://api.bilibili.com"
	liveAPIBase = "https://api.live.bilibili.com"

	// The dynamics endpoint rejects requests without a browser-looking UA.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	dynamicsFeatures = "itemOpusStyle,listOnlyfans,opusBigCover,onlyfansVote,decorationCard,onlyfansAssetsV2,forwardListHidden,ugcDelete"
)

type ClientConfig struct {
	// Cookie is the raw Cookie header for the dynamics endpoint, which
	// requires a logged-in session (SESSDATA etc.). Optional for live status.
	Cookie  string
	Timeout time.Duration
}

type Client struct {
	http   *http.Client
	cookie string
	log    logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		cookie: strings.TrimSpace(cfg.Cookie),
		log:    log,
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// UserDynamics returns the creator's dynamics, newest first.
func (c *Client) UserDynamics(ctx context.Context, mid int64) ([]DynamicItem, error) {
	q := url.Values{}
	q.Set("host_mid", strconv.FormatInt(mid, 10))
	q.Set("platform", "web")
	q.Set("features", dynamicsFeatures)
	q.Set("web_location", "333.1365")

	var data struct {
		Items []DynamicItem `json:"items"`
	}
	if err := c.get(ctx, apiBase+"/x/polymer/web-dynamic/v1/feed/all?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("dynamics of %d: %w", mid, err)
	}
	return data.Items, nil
}

// LiveRoomStatus returns the creator's live room state via the batch
// status-by-uids endpoint, or nil if the creator has no room.
func (c *Client) LiveRoomStatus(ctx context.Context, mid int64) (*LiveRoom, error) {
	body, err := json.Marshal(map[string][]int64{"uids": {mid}})
	if err != nil {
		return nil, err
	}

	var data map[string]LiveRoom
	if err := c.post(ctx, liveAPIBase+"/room/v1/Room/get_status_info_by_uids", body, &data); err != nil {
		return nil, fmt.Errorf("live status of %d: %w", mid, err)
	}
	room, ok := data[strconv.FormatInt(mid, 10)]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, rawURL string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", "https://www.bilibili.com/")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env apiEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("api code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
