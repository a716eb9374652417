package config

// Config is the full configuration tree as parsed from the YAML file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
// Zero/omitted fields are filled in by the runtime defaults the consuming
// service applies.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Push     PushConfig     `json:"push"`
	Sources  SourcesConfig  `json:"sources"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer for subscriptions and
// baselines. Nil means in-memory only (state lost on restart).
//
// Example:
//
//	storage: { driver: file, path: ./kibot_store }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PushConfig controls polling cadence and delivery behavior.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Asia/Shanghai"
//   - feed_interval: "30m"
//   - live_interval: "2m"
//   - rss_interval: "15m"
//   - slate_time: "08:00"
//   - weather_time: "07:30"
//   - max_backlog: 10
//   - rate_per_sec: 10
//   - workers: 2
type PushConfig struct {
	Timezone string `json:"timezone,omitempty"`

	FeedInterval string `json:"feed_interval,omitempty"`
	LiveInterval string `json:"live_interval,omitempty"`
	RSSInterval  string `json:"rss_interval,omitempty"`
	SlateTime    string `json:"slate_time,omitempty"`   // HH:MM
	WeatherTime  string `json:"weather_time,omitempty"` // HH:MM

	// MaxBacklog caps how many missed feed items are delivered in one poll.
	MaxBacklog int `json:"max_backlog,omitempty"`

	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	Workers      int    `json:"workers,omitempty"`
}

type SourcesConfig struct {
	Bilibili BilibiliConfig `json:"bilibili"`
	Weather  WeatherConfig  `json:"weather"`
	RSS      RSSConfig      `json:"rss"`
}

type BilibiliConfig struct {
	// Cookie is sent verbatim on API requests; some endpoints return
	// throttled or partial data without one.
	Cookie  string `json:"cookie,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type WeatherConfig struct {
	Host    string `json:"host,omitempty"` // default: https://devapi.qweather.com
	Key     string `json:"key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type RSSConfig struct {
	Timeout string `json:"timeout,omitempty"`
}
