package config

import (
	"sort"
	"strings"

	"kibot/pkg/logx"
)

// SummarizeChange returns the list of changed top-level sections plus safe
// structured attrs for logging. Secrets (telegram token, bilibili cookie,
// weather key) are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs,
			logx.String("push.timezone", strings.TrimSpace(newCfg.Push.Timezone)),
			logx.String("push.feed_interval", strings.TrimSpace(newCfg.Push.FeedInterval)),
			logx.String("push.live_interval", strings.TrimSpace(newCfg.Push.LiveInterval)),
			logx.Int("push.max_backlog", newCfg.Push.MaxBacklog),
			logx.Int("push.rate_per_sec", newCfg.Push.RatePerSec),
		)
	}

	if oldCfg.Sources != newCfg.Sources {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Bool("sources.bilibili_cookie_set", strings.TrimSpace(newCfg.Sources.Bilibili.Cookie) != ""),
			logx.Bool("sources.weather_key_set", strings.TrimSpace(newCfg.Sources.Weather.Key) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
